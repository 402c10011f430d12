package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "jobstream:ticket:"

// RedisStore implements Store on a shared redis instance. The single-use
// guarantee rides on GETDEL, which claims and removes the ticket in one
// round-trip; this is the only cross-process race in the system and it is
// resolved here rather than with application-level locking.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to redis at addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client, mainly for tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Create stores the payload under a fresh ticket id with the given TTL.
func (s *RedisStore) Create(ctx context.Context, payload *Payload, ttl time.Duration) (string, error) {
	if payload.IssuedAt.IsZero() {
		payload.IssuedAt = time.Now()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal ticket payload: %w", err)
	}

	id := uuid.Must(uuid.NewV7()).String()
	if err := s.client.Set(ctx, keyPrefix+id, data, ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}

	log.Debug().Str("session_id", payload.SessionID).Msg("Issued connection ticket")
	return id, nil
}

// GetAndDelete atomically claims the ticket. A second claim of the same id
// observes redis.Nil and fails with ErrTicketNotFound.
func (s *RedisStore) GetAndDelete(ctx context.Context, id string) (*Payload, error) {
	data, err := s.client.GetDel(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal ticket payload: %w", err)
	}
	return &payload, nil
}

// Close releases the underlying redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
