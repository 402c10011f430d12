package ws

import (
	"sync"
	"time"
)

// pendingEntry records a subscription parked because its request was not yet
// known when the client subscribed.
type pendingEntry struct {
	conn      *Connection
	channel   string
	requestID string
	createdAt time.Time
}

// PendingManager holds subscriptions for requests that do not exist yet.
// When the request is later registered the entries are resolved against the
// real owner; entries that outlive the TTL are rejected back to the client.
type PendingManager struct {
	mu  sync.Mutex
	ttl time.Duration

	// keyed by subscription key, multiple waiters per key
	entries map[string][]pendingEntry
}

// NewPendingManager constructs a pending set with the given entry TTL.
func NewPendingManager(ttl time.Duration) *PendingManager {
	return &PendingManager{
		ttl:     ttl,
		entries: map[string][]pendingEntry{},
	}
}

// Register parks a subscription until the request appears or the TTL lapses.
func (p *PendingManager) Register(key string, conn *Connection, channel, requestID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries[key] {
		if e.conn == conn {
			return
		}
	}

	p.entries[key] = append(p.entries[key], pendingEntry{
		conn:      conn,
		channel:   channel,
		requestID: requestID,
		createdAt: time.Now(),
	})
}

// TakeByRequest removes and returns all waiters for a request id, across
// every channel. The caller resolves each against the request owner.
func (p *PendingManager) TakeByRequest(requestID string) []pendingEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	var waiters []pendingEntry
	for key, entries := range p.entries {
		kept := entries[:0]
		for _, e := range entries {
			if e.requestID == requestID {
				waiters = append(waiters, e)
			} else {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(p.entries, key)
		} else {
			p.entries[key] = kept
		}
	}

	return waiters
}

// Remove drops a single waiter, used when a client unsubscribes before the
// request appears.
func (p *PendingManager) Remove(key string, conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	waiters := p.entries[key]
	kept := waiters[:0]
	for _, e := range waiters {
		if e.conn != conn {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(p.entries, key)
	} else {
		p.entries[key] = kept
	}
}

// RemoveConnection drops all pending entries held by a closed connection.
func (p *PendingManager) RemoveConnection(conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, waiters := range p.entries {
		kept := waiters[:0]
		for _, e := range waiters {
			if e.conn != conn {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(p.entries, key)
		} else {
			p.entries[key] = kept
		}
	}
}

// ExpireStale removes entries older than the TTL and returns them so the
// caller can notify the waiting clients.
func (p *PendingManager) ExpireStale() []pendingEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-p.ttl)

	var expired []pendingEntry
	for key, waiters := range p.entries {
		kept := waiters[:0]
		for _, e := range waiters {
			if e.createdAt.Before(cutoff) {
				expired = append(expired, e)
			} else {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(p.entries, key)
		} else {
			p.entries[key] = kept
		}
	}

	return expired
}

// Count returns the total number of parked entries.
func (p *PendingManager) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, waiters := range p.entries {
		n += len(waiters)
	}

	return n
}
