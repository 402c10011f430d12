package ws

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/jobstream/internal/telemetry"
)

type backlogEntry struct {
	data       []byte
	enqueuedAt time.Time
}

// BacklogManager holds messages published to a subscription key while it has
// no active subscribers. It is a short-lived replay buffer, not a durable
// log: bounded per key, TTL'd, drained destructively on first activation.
// Recovery beyond the TTL is delegated to an external refetch path.
type BacklogManager struct {
	mu     sync.Mutex
	limit  int
	ttl    time.Duration
	queues map[string][]backlogEntry
}

// NewBacklogManager creates a backlog bounded at limit entries per key, each
// retained for at most ttl.
func NewBacklogManager(limit int, ttl time.Duration) *BacklogManager {
	return &BacklogManager{
		limit:  limit,
		ttl:    ttl,
		queues: make(map[string][]backlogEntry),
	}
}

// Enqueue appends a message to the key's queue. When the queue is at its
// bound the oldest entry is evicted first.
func (b *BacklogManager) Enqueue(key string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	queue := b.queues[key]
	if len(queue) >= b.limit {
		evicted := len(queue) - b.limit + 1
		queue = queue[evicted:]
		telemetry.GetMetrics().BacklogEvictedTotal.Add(context.Background(), int64(evicted))
		log.Debug().Str("key", key).Int("evicted", evicted).Msg("Backlog full, evicting oldest entries")
	}

	b.queues[key] = append(queue, backlogEntry{data: data, enqueuedAt: time.Now()})
}

// Drain removes and returns the key's queued messages in publish order,
// skipping entries past their TTL. Drain is destructive: a second call
// returns nothing.
func (b *BacklogManager) Drain(key string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	queue, ok := b.queues[key]
	if !ok {
		return nil
	}
	delete(b.queues, key)

	cutoff := time.Now().Add(-b.ttl)
	messages := make([][]byte, 0, len(queue))
	for _, entry := range queue {
		if entry.enqueuedAt.Before(cutoff) {
			continue
		}
		messages = append(messages, entry.data)
	}
	return messages
}

// CleanupExpired drops entries past their TTL and removes empty queues.
func (b *BacklogManager) CleanupExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().Add(-b.ttl)
	expired := 0
	for key, queue := range b.queues {
		kept := queue[:0]
		for _, entry := range queue {
			if entry.enqueuedAt.After(cutoff) {
				kept = append(kept, entry)
			} else {
				expired++
			}
		}
		if len(kept) == 0 {
			delete(b.queues, key)
			continue
		}
		b.queues[key] = kept
	}

	if expired > 0 {
		telemetry.GetMetrics().BacklogEvictedTotal.Add(context.Background(), int64(expired))
	}
}

// Size returns the total number of queued entries across all keys.
func (b *BacklogManager) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, queue := range b.queues {
		total += len(queue)
	}
	return total
}
