package ticket

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for ticket claims.
var (
	// ErrTicketNotFound covers both unknown ids and tickets already claimed;
	// the two are indistinguishable by design so a replayed ticket leaks
	// nothing about whether the first claim succeeded.
	ErrTicketNotFound = errors.New("ticket not found")
	ErrTicketExpired  = errors.New("ticket expired")

	// ErrStoreUnavailable indicates an infrastructure failure, not a bad
	// ticket. When auth is mandatory the verifier fails closed on it.
	ErrStoreUnavailable = errors.New("ticket store unavailable")
)

// Payload is the identity bound to a one-time connection ticket.
type Payload struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId,omitempty"`
	ClientID  string    `json:"clientId"`
	IssuedAt  time.Time `json:"issuedAt"`
}

// Store issues and claims single-use connection tickets. GetAndDelete must be
// atomic: two concurrent claims of the same id yield exactly one winner. That
// atomicity is the store's responsibility (e.g. redis GETDEL), not the
// caller's.
type Store interface {
	Create(ctx context.Context, payload *Payload, ttl time.Duration) (string, error)
	GetAndDelete(ctx context.Context, id string) (*Payload, error)
}
