package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/jobstream/internal/auth"
	"github.com/wolfeidau/jobstream/internal/config"
	"github.com/wolfeidau/jobstream/internal/protocol"
	"github.com/wolfeidau/jobstream/internal/store"
	"github.com/wolfeidau/jobstream/internal/ticket"
)

type managerFixture struct {
	manager  *Manager
	requests *store.MemoryRequestStore
	tickets  *ticket.MemoryStore
	server   *httptest.Server
	wsURL    string
}

func newManagerFixture(t *testing.T, mutate func(*config.Config)) *managerFixture {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())

	tickets := ticket.NewMemoryStore()
	verifier, err := auth.NewVerifier(cfg, tickets)
	require.NoError(t, err)

	requests := store.NewMemoryRequestStore()
	manager := NewManager(cfg, verifier, requests, zerolog.Nop())

	server := httptest.NewServer(http.HandlerFunc(manager.HandleUpgrade))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
		server.Close()
	})

	return &managerFixture{
		manager:  manager,
		requests: requests,
		tickets:  tickets,
		server:   server,
		wsURL:    "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

// dialWithSession issues a one-time ticket bound to sessionID and dials with
// it, the same flow a browser client uses.
func (f *managerFixture) dialWithSession(t *testing.T, sessionID string) *websocket.Conn {
	t.Helper()

	id, err := f.tickets.Create(context.Background(), &ticket.Payload{
		SessionID: sessionID,
		IssuedAt:  time.Now(),
	}, 30*time.Second)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL+"?ticket="+id, nil) //nolint:bodyclose
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func wsSend(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func wsRead(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func wsExpectClose(t *testing.T, conn *websocket.Conn, code int, reason string) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	require.Equal(t, code, closeErr.Code)
	require.Equal(t, reason, closeErr.Text)
}

func TestManager_LateSubscriberReplay(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.requests.CreateRequest(ctx, "req-1", store.Owner{SessionID: "sess-1"}))

	// events published before anyone subscribes land in the backlog
	for i := 1; i <= 3; i++ {
		res, err := f.manager.Publish("req-1", protocol.Payload{
			Type: "status",
			Data: map[string]any{"seq": i},
		})
		require.NoError(t, err)
		require.True(t, res.Backlogged)
	}

	conn := f.dialWithSession(t, "sess-1")
	wsSend(t, conn, protocol.ClientMessage{Type: protocol.TypeSubscribe, Channel: "status", RequestID: "req-1"})

	ack := wsRead(t, conn)
	require.Equal(t, protocol.TypeSubAck, ack["type"])
	require.Equal(t, false, ack["pending"])

	for i := 1; i <= 3; i++ {
		msg := wsRead(t, conn)
		require.Equal(t, float64(i), msg["data"].(map[string]any)["seq"])
	}

	// live delivery continues after the replay
	res, err := f.manager.Publish("req-1", protocol.Payload{Type: "status", Data: map[string]any{"seq": 4}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Sent)
	require.Equal(t, float64(4), wsRead(t, conn)["data"].(map[string]any)["seq"])
}

func TestManager_EarlySubscriberActivation(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	conn := f.dialWithSession(t, "sess-1")
	wsSend(t, conn, protocol.ClientMessage{Type: protocol.TypeSubscribe, Channel: "status", RequestID: "req-1"})

	ack := wsRead(t, conn)
	require.Equal(t, protocol.TypeSubAck, ack["type"])
	require.Equal(t, true, ack["pending"])

	// events published while pending are backlogged, not lost
	_, err := f.manager.Publish("req-1", protocol.Payload{Type: "status", Data: map[string]any{"seq": 1}})
	require.NoError(t, err)

	require.NoError(t, f.requests.CreateRequest(ctx, "req-1", store.Owner{SessionID: "sess-1"}))
	require.Equal(t, 1, f.manager.ActivatePendingSubscriptions("req-1", "sess-1"))

	ack = wsRead(t, conn)
	require.Equal(t, false, ack["pending"])
	require.Equal(t, float64(1), wsRead(t, conn)["data"].(map[string]any)["seq"])

	res, err := f.manager.Publish("req-1", protocol.Payload{Type: "status", Data: map[string]any{"seq": 2}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Sent)
}

func TestManager_SessionMismatchKeepsConnection(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.requests.CreateRequest(ctx, "theirs", store.Owner{SessionID: "sess-2"}))
	require.NoError(t, f.requests.CreateRequest(ctx, "mine", store.Owner{SessionID: "sess-1"}))

	conn := f.dialWithSession(t, "sess-1")

	wsSend(t, conn, protocol.ClientMessage{Type: protocol.TypeSubscribe, Channel: "status", RequestID: "theirs"})
	nack := wsRead(t, conn)
	require.Equal(t, protocol.TypeSubNack, nack["type"])
	require.Equal(t, protocol.NackSessionMismatch, nack["reason"])

	// the connection survives and can subscribe to its own request
	wsSend(t, conn, protocol.ClientMessage{Type: protocol.TypeSubscribe, Channel: "status", RequestID: "mine"})
	ack := wsRead(t, conn)
	require.Equal(t, protocol.TypeSubAck, ack["type"])
	require.Equal(t, false, ack["pending"])
}

func TestManager_PingPong(t *testing.T) {
	f := newManagerFixture(t, nil)

	conn := f.dialWithSession(t, "sess-1")
	wsSend(t, conn, protocol.ClientMessage{Type: protocol.TypePing})

	require.Equal(t, protocol.TypePong, wsRead(t, conn)["type"])
}

func TestManager_MalformedMessagesIgnored(t *testing.T) {
	f := newManagerFixture(t, nil)

	conn := f.dialWithSession(t, "sess-1")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))

	// the connection is still healthy
	wsSend(t, conn, protocol.ClientMessage{Type: protocol.TypePing})
	require.Equal(t, protocol.TypePong, wsRead(t, conn)["type"])
}

func TestManager_OriginBlocked(t *testing.T) {
	f := newManagerFixture(t, func(cfg *config.Config) {
		cfg.AllowedOrigins = []string{"http://app.example.com"}
	})

	header := http.Header{"Origin": []string{"http://evil.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, header) //nolint:bodyclose
	require.NoError(t, err)
	defer conn.Close()

	wsExpectClose(t, conn, protocol.CloseCodeOriginBlocked, protocol.CloseOriginBlocked)
}

func TestManager_TicketSingleUse(t *testing.T) {
	f := newManagerFixture(t, nil)

	id, err := f.tickets.Create(context.Background(), &ticket.Payload{
		SessionID: "sess-1",
		IssuedAt:  time.Now(),
	}, 30*time.Second)
	require.NoError(t, err)

	first, _, err := websocket.DefaultDialer.Dial(f.wsURL+"?ticket="+id, nil) //nolint:bodyclose
	require.NoError(t, err)
	defer first.Close()

	second, _, err := websocket.DefaultDialer.Dial(f.wsURL+"?ticket="+id, nil) //nolint:bodyclose
	require.NoError(t, err)
	defer second.Close()

	wsExpectClose(t, second, protocol.CloseCodeNotAuthorized, protocol.CloseNotAuthorized)
}

func TestManager_IdleTimeout(t *testing.T) {
	f := newManagerFixture(t, func(cfg *config.Config) {
		cfg.IdleTimeout = 100 * time.Millisecond
		cfg.HeartbeatInterval = time.Hour
	})

	conn := f.dialWithSession(t, "sess-1")

	// no data frames for the idle window, the server terminates the connection
	wsExpectClose(t, conn, protocol.CloseCodeIdleTimeout, protocol.CloseIdleTimeout)

	require.Eventually(t, func() bool {
		return f.manager.Stats().Connections == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_HeartbeatTimeout(t *testing.T) {
	f := newManagerFixture(t, func(cfg *config.Config) {
		cfg.HeartbeatInterval = 50 * time.Millisecond
		cfg.IdleTimeout = time.Hour
	})

	conn := f.dialWithSession(t, "sess-1")

	// swallow pings so no pong ever reaches the server
	conn.SetPingHandler(func(string) error { return nil })

	wsExpectClose(t, conn, protocol.CloseCodeHeartbeatTimeout, protocol.CloseHeartbeatTimeout)
}

func TestManager_ShutdownClosesSoft(t *testing.T) {
	f := newManagerFixture(t, nil)

	conn := f.dialWithSession(t, "sess-1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.manager.Shutdown(ctx))

	wsExpectClose(t, conn, protocol.CloseCodeServerShutdown, protocol.CloseServerShutdown)
	require.False(t, protocol.IsHardClose(protocol.CloseServerShutdown))
}

func TestManager_Stats(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.requests.CreateRequest(ctx, "req-1", store.Owner{SessionID: "sess-1"}))

	conn := f.dialWithSession(t, "sess-1")
	wsSend(t, conn, protocol.ClientMessage{Type: protocol.TypeSubscribe, Channel: "status", RequestID: "req-1"})
	wsRead(t, conn)

	wsSend(t, conn, protocol.ClientMessage{Type: protocol.TypeSubscribe, Channel: "status", RequestID: "req-future"})
	wsRead(t, conn)

	_, err := f.manager.Publish("req-other", protocol.Payload{Type: "status"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats := f.manager.Stats()
		return stats.Connections == 1 &&
			stats.ActiveSubscriptions == 1 &&
			stats.PendingSubscriptions == 1 &&
			stats.BacklogEntries == 1
	}, 2*time.Second, 10*time.Millisecond)
}
