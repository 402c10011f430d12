package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/jobstream/internal/auth"
	"github.com/wolfeidau/jobstream/internal/config"
	httpmiddleware "github.com/wolfeidau/jobstream/internal/http"
	"github.com/wolfeidau/jobstream/internal/protocol"
	"github.com/wolfeidau/jobstream/internal/store"
	"github.com/wolfeidau/jobstream/internal/telemetry"
)

// Stats is a point-in-time snapshot of the manager's state, exposed on the
// stats endpoint.
type Stats struct {
	Connections          int `json:"connections"`
	ActiveSubscriptions  int `json:"activeSubscriptions"`
	BacklogEntries       int `json:"backlogEntries"`
	PendingSubscriptions int `json:"pendingSubscriptions"`
}

// Manager owns the websocket side of the channel subsystem: it verifies and
// upgrades connections, dispatches client messages, and drives the periodic
// expiry sweeps. Request owner checks go through the store; everything else
// is in-memory per process.
type Manager struct {
	cfg      config.Config
	verifier *auth.Verifier
	subs     *SubscriptionManager
	backlog  *BacklogManager
	pending  *PendingManager
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu       sync.Mutex
	conns    map[*Connection]struct{}
	shutdown bool

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewManager builds a manager over the given verifier and request store and
// starts the expiry sweep.
func NewManager(cfg config.Config, verifier *auth.Verifier, requests store.RequestStore, log zerolog.Logger) *Manager {
	backlog := NewBacklogManager(cfg.BacklogLimit, cfg.BacklogTTL)
	pending := NewPendingManager(cfg.PendingTTL)

	m := &Manager{
		cfg:      cfg,
		verifier: verifier,
		subs:     NewSubscriptionManager(requests, backlog, pending, log),
		backlog:  backlog,
		pending:  pending,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// origin policy is enforced by the verifier before upgrade
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:     map[*Connection]struct{}{},
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	go m.sweepLoop()

	return m
}

// HandleUpgrade verifies the handshake and promotes the request to a
// websocket. A rejected handshake is still upgraded so the client receives a
// structured close frame with the rejection reason rather than a bare HTTP
// error.
func (m *Manager) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	identity, verifyErr := m.verifier.Verify(r.Context(), r)

	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	if verifyErr != nil {
		reason := protocol.CloseNotAuthorized
		var reject *auth.RejectError
		if errors.As(verifyErr, &reject) {
			reason = reject.CloseReason()
		}

		m.log.Info().Err(verifyErr).Str("reason", reason).
			Str("client_ip", httpmiddleware.ExtractClientIP(r)).
			Msg("Connection rejected")
		telemetry.GetMetrics().ConnectionsRejected.Add(r.Context(), 1)

		frame := websocket.FormatCloseMessage(protocol.CloseCode(reason), reason)
		_ = ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}

	conn := newConnection(ws, identity, m.log)

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		conn.Close(protocol.CloseServerShutdown)
		return
	}
	m.conns[conn] = struct{}{}
	m.mu.Unlock()

	telemetry.GetMetrics().ConnectionsAccepted.Add(r.Context(), 1)
	telemetry.GetMetrics().ActiveConnections.Add(r.Context(), 1)

	m.log.Info().Str("conn_id", conn.ID()).Str("session_id", identity.SessionID).
		Str("client_ip", httpmiddleware.ExtractClientIP(r)).Msg("Connection accepted")

	go conn.writePump(m.cfg.HeartbeatInterval)
	conn.readPump(m.cfg.IdleTimeout, m.cfg.HeartbeatInterval, m.handleMessage, m.removeConnection)
}

// handleMessage dispatches one inbound frame. Protocol errors never close
// the connection, they are nacked or logged and ignored.
func (m *Manager) handleMessage(conn *Connection, data []byte) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		m.log.Debug().Err(err).Str("conn_id", conn.ID()).Msg("Ignoring malformed message")
		return
	}

	switch msg.Type {
	case protocol.TypeSubscribe:
		channel := msg.Channel
		if channel == "" {
			channel = m.cfg.DefaultChannel
		}
		m.subs.HandleSubscribe(context.Background(), conn, channel, msg.RequestID)
	case protocol.TypeUnsubscribe:
		channel := msg.Channel
		if channel == "" {
			channel = m.cfg.DefaultChannel
		}
		m.subs.Unsubscribe(conn, channel, msg.RequestID)
	case protocol.TypePing:
		if err := conn.SendJSON(protocol.Pong{Type: protocol.TypePong}); err != nil {
			m.log.Debug().Err(err).Str("conn_id", conn.ID()).Msg("Failed to send pong")
		}
	}
}

func (m *Manager) removeConnection(conn *Connection) {
	m.mu.Lock()
	_, known := m.conns[conn]
	delete(m.conns, conn)
	m.mu.Unlock()

	if !known {
		return
	}

	m.subs.Cleanup(conn)
	telemetry.GetMetrics().ActiveConnections.Add(context.Background(), -1)
	telemetry.GetMetrics().ConnectionDuration.Record(context.Background(),
		time.Since(conn.Identity().ConnectedAt).Seconds())

	m.log.Info().Str("conn_id", conn.ID()).Str("reason", conn.CloseReason()).
		Msg("Connection closed")
}

// Publish delivers a payload on the default channel.
func (m *Manager) Publish(requestID string, payload protocol.Payload) (PublishResult, error) {
	return m.PublishToChannel(m.cfg.DefaultChannel, requestID, payload)
}

// PublishToChannel delivers a payload to subscribers of (channel, requestID),
// backlogging it when none are live.
func (m *Manager) PublishToChannel(channel, requestID string, payload protocol.Payload) (PublishResult, error) {
	payload.RequestID = requestID

	data, err := json.Marshal(payload)
	if err != nil {
		return PublishResult{}, err
	}

	return m.subs.Publish(channel, requestID, data), nil
}

// ActivatePendingSubscriptions promotes subscriptions parked before the
// request existed. Call it as soon as a request is registered with its owner
// session.
func (m *Manager) ActivatePendingSubscriptions(requestID, ownerSessionID string) int {
	return m.subs.Activate(requestID, ownerSessionID)
}

// Stats returns a snapshot for the stats endpoint.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	connections := len(m.conns)
	m.mu.Unlock()

	return Stats{
		Connections:         connections,
		ActiveSubscriptions: m.subs.ActiveCount(),
		BacklogEntries:      m.backlog.Size(),
		PendingSubscriptions: m.pending.Count(),
	}
}

// Shutdown stops the sweep loop and closes every connection with
// SERVER_SHUTDOWN so clients reconnect elsewhere.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	conns := make([]*Connection, 0, len(m.conns))
	for conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	close(m.stopSweep)

	m.log.Info().Int("connections", len(conns)).Msg("Shutting down websocket manager")

	for _, conn := range conns {
		conn.Close(protocol.CloseServerShutdown)
	}

	select {
	case <-m.sweepDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// sweepLoop drives backlog and pending expiry on the heartbeat cadence.
func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.subs.CleanupExpired()
		case <-m.stopSweep:
			return
		}
	}
}
