package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/jobstream/internal/store"
)

// RequestStore implements store.RequestStore backed by PostgreSQL. It is the
// durable ownership oracle for deployments where pipeline requests outlive a
// single process.
type RequestStore struct {
	pool *pgxpool.Pool
}

var _ store.RequestStore = (*RequestStore)(nil)

// NewRequestStore creates a request store on an existing connection pool.
func NewRequestStore(pool *pgxpool.Pool) *RequestStore {
	return &RequestStore{pool: pool}
}

// Start is a no-op; retention is enforced by the events TTL job in the
// database, not in process.
func (s *RequestStore) Start() error { return nil }

// Stop is a no-op; the pool is owned and closed by the caller.
func (s *RequestStore) Stop() error { return nil }

// GetRequestOwner resolves the authoritative owner for a request id.
func (s *RequestStore) GetRequestOwner(ctx context.Context, requestID string) (*store.Owner, error) {
	var (
		sessionID string
		userID    sql.NullString
	)

	err := s.pool.QueryRow(ctx,
		`SELECT session_id, user_id FROM requests WHERE request_id = $1`,
		requestID,
	).Scan(&sessionID, &userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrRequestNotFound, requestID)
		}
		return nil, mapPostgresError(err)
	}

	return &store.Owner{SessionID: sessionID, UserID: userID.String}, nil
}

// CreateRequest registers a request under its owner. Re-registration by the
// same owner refreshes updated_at; a different owner fails with
// ErrRequestExists.
func (s *RequestStore) CreateRequest(ctx context.Context, requestID string, owner store.Owner) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO requests (request_id, session_id, user_id)
		 VALUES ($1, $2, NULLIF($3, ''))
		 ON CONFLICT (request_id) DO UPDATE SET updated_at = now()
		 WHERE requests.session_id = EXCLUDED.session_id`,
		requestID, owner.SessionID, owner.UserID,
	)
	if err != nil {
		return mapPostgresError(err)
	}

	// Zero rows means the conflict row belongs to a different session.
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrRequestExists, requestID)
	}

	log.Debug().Str("request_id", requestID).Str("session_id", owner.SessionID).Msg("Request registered")
	return nil
}
