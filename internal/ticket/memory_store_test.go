package ticket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("create and claim round trip", func(t *testing.T) {
		s := NewMemoryStore()

		id, err := s.Create(ctx, &Payload{
			SessionID: "sess-1",
			UserID:    "user-1",
			ClientID:  "client-1",
			IssuedAt:  time.Now(),
		}, 30*time.Second)
		require.NoError(t, err)
		require.NotEmpty(t, id)

		payload, err := s.GetAndDelete(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "sess-1", payload.SessionID)
		require.Equal(t, "user-1", payload.UserID)
	})

	t.Run("claim is single use", func(t *testing.T) {
		s := NewMemoryStore()

		id, err := s.Create(ctx, &Payload{SessionID: "sess-1", IssuedAt: time.Now()}, 30*time.Second)
		require.NoError(t, err)

		_, err = s.GetAndDelete(ctx, id)
		require.NoError(t, err)

		_, err = s.GetAndDelete(ctx, id)
		require.ErrorIs(t, err, ErrTicketNotFound)
	})

	t.Run("unknown ticket", func(t *testing.T) {
		s := NewMemoryStore()

		_, err := s.GetAndDelete(ctx, "missing")
		require.ErrorIs(t, err, ErrTicketNotFound)
	})

	t.Run("expired ticket is consumed", func(t *testing.T) {
		s := NewMemoryStore()

		id, err := s.Create(ctx, &Payload{SessionID: "sess-1", IssuedAt: time.Now()}, 10*time.Millisecond)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)

		_, err = s.GetAndDelete(ctx, id)
		require.ErrorIs(t, err, ErrTicketExpired)

		// expiry still burns the ticket
		_, err = s.GetAndDelete(ctx, id)
		require.ErrorIs(t, err, ErrTicketNotFound)
	})
}
