package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for common error conditions
var (
	ErrRequestNotFound  = errors.New("request not found")
	ErrRequestExists    = errors.New("request already exists")
	ErrStoreUnavailable = errors.New("request store unavailable")
)

// Owner identifies the session authorized to receive updates for a request.
// It is the sole source of truth for subscription authorization.
type Owner struct {
	SessionID string
	UserID    string
}

// Request is a pipeline job registration: the request id clients subscribe to
// plus its verified owner.
type Request struct {
	RequestID string
	Owner     Owner
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RequestStore defines the ownership oracle consumed by the subscription
// manager, plus the job-creation hook that applications call before
// activating pending subscriptions.
type RequestStore interface {
	// GetRequestOwner resolves the authoritative owner for a request id.
	// Unknown ids return ErrRequestNotFound; infrastructure failures return
	// a different error. Callers fold both into "owner unknown" rather than
	// "denied" so transient store hiccups never block legitimate subscribes.
	GetRequestOwner(ctx context.Context, requestID string) (*Owner, error)

	// CreateRequest registers a request under its owner. Creating the same
	// request id twice with the same owner is idempotent; a different owner
	// returns ErrRequestExists.
	CreateRequest(ctx context.Context, requestID string, owner Owner) error

	// Lifecycle
	Start() error
	Stop() error
}
