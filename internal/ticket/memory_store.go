package ticket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	payload   *Payload
	expiresAt time.Time
}

// MemoryStore implements Store with a mutex-guarded map. It is used in
// development and tests; the mutex gives the same claim-once guarantee that
// GETDEL provides in the redis store, but only within a single process.
type MemoryStore struct {
	mu      sync.Mutex
	tickets map[string]memoryEntry
}

// NewMemoryStore creates an empty in-memory ticket store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tickets: make(map[string]memoryEntry)}
}

// Create stores the payload under a fresh ticket id with the given TTL.
func (s *MemoryStore) Create(_ context.Context, payload *Payload, ttl time.Duration) (string, error) {
	if payload.IssuedAt.IsZero() {
		payload.IssuedAt = time.Now()
	}

	id := uuid.Must(uuid.NewV7()).String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[id] = memoryEntry{payload: payload, expiresAt: time.Now().Add(ttl)}
	return id, nil
}

// GetAndDelete claims the ticket, removing it whether or not it is still
// within its TTL. Expired tickets fail with ErrTicketExpired.
func (s *MemoryStore) GetAndDelete(_ context.Context, id string) (*Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	delete(s.tickets, id)

	if time.Now().After(entry.expiresAt) {
		return nil, ErrTicketExpired
	}
	return entry.payload, nil
}
