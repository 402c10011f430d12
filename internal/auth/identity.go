package auth

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the connection context established at handshake from a verified
// ticket or JWT. It is immutable for the connection's lifetime and is never
// overwritten by later client messages; all authorization decisions compare
// against it rather than anything the client sends on the wire.
type Identity struct {
	SessionID   string
	UserID      string
	ClientID    string
	ConnectedAt time.Time
}

// Anonymous mints an identity with a generated session id, used when auth is
// not mandatory and the client presented no credentials.
func Anonymous() *Identity {
	return &Identity{
		SessionID:   "anon_" + uuid.Must(uuid.NewV7()).String(),
		ClientID:    uuid.Must(uuid.NewV7()).String(),
		ConnectedAt: time.Now(),
	}
}
