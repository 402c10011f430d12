package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MemoryRequestStore implements RequestStore using in-memory storage
type MemoryRequestStore struct {
	mu       sync.RWMutex
	requests map[string]*Request // request ID -> Request

	// Retention and background cleanup
	retention     time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan bool
}

// NewMemoryRequestStore creates a new in-memory request store. Requests are
// retained for 24 hours; recovery beyond that is the job of a persistent
// store.
func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{
		requests:    make(map[string]*Request),
		retention:   24 * time.Hour,
		stopCleanup: make(chan bool),
	}
}

// Start begins background cleanup operations
func (s *MemoryRequestStore) Start() error {
	s.cleanupTicker = time.NewTicker(time.Minute)
	go s.cleanupLoop()
	return nil
}

// Stop terminates background operations
func (s *MemoryRequestStore) Stop() error {
	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
	}
	close(s.stopCleanup)
	return nil
}

func (s *MemoryRequestStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanupExpiredRequests()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupExpiredRequests drops requests past the retention window
func (s *MemoryRequestStore) cleanupExpiredRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.retention)
	for requestID, req := range s.requests {
		if req.UpdatedAt.Before(cutoff) {
			delete(s.requests, requestID)
			log.Debug().Str("request_id", requestID).Msg("Expired request removed from store")
		}
	}
}

// GetRequestOwner resolves the authoritative owner for a request id
func (s *MemoryRequestStore) GetRequestOwner(_ context.Context, requestID string) (*Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, exists := s.requests[requestID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}

	owner := req.Owner
	return &owner, nil
}

// CreateRequest registers a request under its owner
func (s *MemoryRequestStore) CreateRequest(_ context.Context, requestID string, owner Owner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.requests[requestID]; exists {
		// Idempotent re-registration by the same owner
		if existing.Owner == owner {
			existing.UpdatedAt = time.Now()
			return nil
		}
		return fmt.Errorf("%w: %s", ErrRequestExists, requestID)
	}

	now := time.Now()
	s.requests[requestID] = &Request{
		RequestID: requestID,
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}

	log.Debug().Str("request_id", requestID).Str("session_id", owner.SessionID).Msg("Request registered")
	return nil
}
