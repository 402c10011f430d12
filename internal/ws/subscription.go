package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wolfeidau/jobstream/internal/protocol"
	"github.com/wolfeidau/jobstream/internal/store"
	"github.com/wolfeidau/jobstream/internal/telemetry"
)

// PublishResult reports how a publish was disposed of.
type PublishResult struct {
	// Sent is the number of live connections the message was queued to.
	Sent int
	// Failed counts connections whose send buffer was full or closed.
	Failed int
	// Backlogged is true when no subscriber was live and the message was
	// queued for later replay.
	Backlogged bool
}

// SubscriptionManager tracks which connections receive messages for each
// (channel, request) pair, parking early subscribers as pending and queueing
// messages for late ones. The mutex serializes publish against subscribe
// activation so the backlog to live handover never reorders or drops
// messages.
type SubscriptionManager struct {
	mu sync.Mutex

	requests store.RequestStore
	backlog  *BacklogManager
	pending  *PendingManager
	log      zerolog.Logger

	active map[string]map[*Connection]struct{}
	byConn map[*Connection]map[string]struct{}
}

// NewSubscriptionManager wires the subscription state over a request owner
// store, a backlog and a pending set.
func NewSubscriptionManager(requests store.RequestStore, backlog *BacklogManager, pending *PendingManager, log zerolog.Logger) *SubscriptionManager {
	return &SubscriptionManager{
		requests: requests,
		backlog:  backlog,
		pending:  pending,
		log:      log,
		active:   map[string]map[*Connection]struct{}{},
		byConn:   map[*Connection]map[string]struct{}{},
	}
}

// BuildKey returns the canonical subscription key. Keys carry no session
// component, a subscription survives the session that created the request.
func BuildKey(channel, requestID string) string {
	return channel + ":" + requestID
}

// HandleSubscribe resolves a subscribe message against the request owner
// store and answers with sub_ack or sub_nack. Rejection never tears down the
// connection, the client may retry with a different request id.
func (s *SubscriptionManager) HandleSubscribe(ctx context.Context, conn *Connection, channel, requestID string) {
	if channel == "" || requestID == "" {
		s.sendNack(conn, channel, requestID, protocol.NackInvalidRequest)
		return
	}

	owner, err := s.requests.GetRequestOwner(ctx, requestID)
	if err != nil {
		// Unknown owner covers both a request not yet created and a store
		// outage. Neither proves the client is unauthorized, so the
		// subscription parks as pending instead of being denied.
		if !errors.Is(err, store.ErrRequestNotFound) {
			s.log.Warn().Err(err).Str("request_id", requestID).Msg("Owner lookup failed, parking subscription as pending")
		}

		key := BuildKey(channel, requestID)
		s.pending.Register(key, conn, channel, requestID)

		// The request may have been created, and its activation fired,
		// between the lookup and Register. Re-check once so the entry
		// cannot strand as pending when the owner is already known.
		owner, err = s.requests.GetRequestOwner(ctx, requestID)
		if err != nil {
			telemetry.GetMetrics().SubscribePendingTotal.Add(ctx, 1)
			s.sendAck(conn, channel, requestID, true)
			return
		}
		s.pending.Remove(key, conn)
	}

	if owner.SessionID != conn.Identity().SessionID {
		s.log.Debug().
			Str("request_id", requestID).
			Str("session_id", conn.Identity().SessionID).
			Msg("Subscribe denied, request owned by another session")
		telemetry.GetMetrics().SubscribeRejectedTotal.Add(ctx, 1)
		s.sendNack(conn, channel, requestID, protocol.NackSessionMismatch)
		return
	}

	telemetry.GetMetrics().SubscribeAcceptedTotal.Add(ctx, 1)
	s.activate(conn, channel, requestID)
}

// activate adds the connection to the live set and replays any backlog,
// atomically with respect to Publish.
func (s *SubscriptionManager) activate(conn *Connection, channel, requestID string) {
	key := BuildKey(channel, requestID)

	s.mu.Lock()
	defer s.mu.Unlock()

	conns, ok := s.active[key]
	if !ok {
		conns = map[*Connection]struct{}{}
		s.active[key] = conns
	}
	conns[conn] = struct{}{}

	keys, ok := s.byConn[conn]
	if !ok {
		keys = map[string]struct{}{}
		s.byConn[conn] = keys
	}
	keys[key] = struct{}{}

	s.sendAck(conn, channel, requestID, false)

	replayed := s.backlog.Drain(key)
	for _, data := range replayed {
		if err := conn.Send(data); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Backlog replay dropped message")
		}
	}

	if len(replayed) > 0 {
		telemetry.GetMetrics().BacklogReplayedTotal.Add(context.Background(), int64(len(replayed)))
		s.log.Debug().Str("key", key).Int("count", len(replayed)).Msg("Replayed backlog to subscriber")
	}
}

// Unsubscribe removes a subscription, live or pending. Unsubscribing a key
// that was never subscribed is a no-op.
func (s *SubscriptionManager) Unsubscribe(conn *Connection, channel, requestID string) {
	key := BuildKey(channel, requestID)

	s.mu.Lock()
	if conns, ok := s.active[key]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(s.active, key)
		}
	}
	if keys, ok := s.byConn[conn]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(s.byConn, conn)
		}
	}
	s.mu.Unlock()

	s.pending.Remove(key, conn)
}

// Cleanup purges every subscription held by a closed connection.
func (s *SubscriptionManager) Cleanup(conn *Connection) {
	s.mu.Lock()
	for key := range s.byConn[conn] {
		if conns, ok := s.active[key]; ok {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(s.active, key)
			}
		}
	}
	delete(s.byConn, conn)
	s.mu.Unlock()

	s.pending.RemoveConnection(conn)
}

// Publish delivers a pre-encoded message to all live subscribers of the key,
// or queues it in the backlog when none are connected. Delivery order matches
// publish order; a slow subscriber loses the message rather than stalling
// the publisher.
func (s *SubscriptionManager) Publish(channel, requestID string, data []byte) PublishResult {
	key := BuildKey(channel, requestID)

	s.mu.Lock()
	defer s.mu.Unlock()

	metrics := telemetry.GetMetrics()
	metrics.MessagesPublishedTotal.Add(context.Background(), 1)

	conns := s.active[key]
	if len(conns) == 0 {
		s.backlog.Enqueue(key, data)
		metrics.MessagesBackloggedTotal.Add(context.Background(), 1)
		return PublishResult{Backlogged: true}
	}

	var res PublishResult
	for conn := range conns {
		if err := conn.Send(data); err != nil {
			res.Failed++
			continue
		}
		res.Sent++
	}

	metrics.MessagesDeliveredTotal.Add(context.Background(), int64(res.Sent))
	if res.Failed > 0 {
		metrics.MessagesDroppedTotal.Add(context.Background(), int64(res.Failed))
	}

	return res
}

// Activate promotes pending subscriptions once their request exists. Each
// waiter is re-verified against the owner session, mismatches are nacked and
// discarded. The backlog for each promoted key is replayed once.
func (s *SubscriptionManager) Activate(requestID, ownerSessionID string) int {
	promoted := 0
	for _, e := range s.pending.TakeByRequest(requestID) {
		if e.conn.Identity().SessionID != ownerSessionID {
			s.sendNack(e.conn, e.channel, e.requestID, protocol.NackSessionMismatch)
			continue
		}

		s.activate(e.conn, e.channel, e.requestID)
		promoted++
	}

	if promoted > 0 {
		telemetry.GetMetrics().PendingActivatedTotal.Add(context.Background(), int64(promoted))
	}

	return promoted
}

// CleanupExpired sweeps the backlog TTL and rejects pending subscriptions
// that outlived theirs.
func (s *SubscriptionManager) CleanupExpired() {
	s.backlog.CleanupExpired()

	for _, e := range s.pending.ExpireStale() {
		s.log.Debug().
			Str("request_id", e.requestID).
			Str("session_id", e.conn.Identity().SessionID).
			Msg("Pending subscription expired")
		telemetry.GetMetrics().PendingExpiredTotal.Add(context.Background(), 1)
		s.sendNack(e.conn, e.channel, e.requestID, protocol.NackUnauthorized)
	}
}

// ActiveCount returns the number of live subscription entries.
func (s *SubscriptionManager) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, conns := range s.active {
		n += len(conns)
	}

	return n
}

func (s *SubscriptionManager) sendAck(conn *Connection, channel, requestID string, pending bool) {
	if err := conn.SendJSON(protocol.NewSubAck(channel, requestID, pending)); err != nil {
		s.log.Debug().Err(err).Msg("Failed to send sub_ack")
	}
}

func (s *SubscriptionManager) sendNack(conn *Connection, channel, requestID, reason string) {
	if err := conn.SendJSON(protocol.NewSubNack(channel, requestID, reason)); err != nil {
		s.log.Debug().Err(err).Msg("Failed to send sub_nack")
	}
}
