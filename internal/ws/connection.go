package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/jobstream/internal/auth"
	"github.com/wolfeidau/jobstream/internal/protocol"
)

const (
	// writeWait is the deadline for a single frame write.
	writeWait = 10 * time.Second

	// sendBufferSize is the per-connection outbound queue. A full queue
	// counts as a delivery failure rather than blocking the publish path.
	sendBufferSize = 256

	maxMessageSize = 32 * 1024
)

// ErrSendBufferFull is returned when a connection's outbound queue is full.
var ErrSendBufferFull = errors.New("send buffer full")

// Connection wraps a websocket with its immutable handshake identity and a
// buffered outbound queue. All writes go through the write pump so the
// publish path never blocks on a slow client.
type Connection struct {
	id       string
	ws       *websocket.Conn
	identity *auth.Identity
	send     chan []byte
	log      zerolog.Logger

	closeOnce   sync.Once
	done        chan struct{}
	closeReason string
	reasonMu    sync.Mutex
}

func newConnection(ws *websocket.Conn, identity *auth.Identity, log zerolog.Logger) *Connection {
	id := uuid.Must(uuid.NewV7()).String()
	return &Connection{
		id:       id,
		ws:       ws,
		identity: identity,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		log:      log.With().Str("conn_id", id).Str("session_id", identity.SessionID).Logger(),
	}
}

// ID returns the server-assigned connection id.
func (c *Connection) ID() string { return c.id }

// Identity returns the identity fixed at handshake. Later client messages
// never alter it.
func (c *Connection) Identity() *auth.Identity { return c.identity }

// Send queues a pre-encoded frame for delivery. It never blocks; a full
// buffer or closed connection yields an error counted by the caller.
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// SendJSON marshals v and queues it for delivery.
func (c *Connection) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	return c.Send(data)
}

// Close sends a structured close frame carrying the code mapped from reason,
// then tears the connection down. Safe to call multiple times; only the
// first reason wins.
func (c *Connection) Close(reason string) {
	c.closeOnce.Do(func() {
		c.reasonMu.Lock()
		c.closeReason = reason
		c.reasonMu.Unlock()

		frame := websocket.FormatCloseMessage(protocol.CloseCode(reason), reason)
		if err := c.ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait)); err != nil {
			c.log.Debug().Err(err).Msg("Failed to write close frame")
		}
		close(c.done)
		_ = c.ws.Close()
	})
}

// CloseReason returns the reason recorded by Close, or empty for an
// unstructured drop.
func (c *Connection) CloseReason() string {
	c.reasonMu.Lock()
	defer c.reasonMu.Unlock()
	return c.closeReason
}

// writePump serializes all frame writes: queued messages plus the heartbeat
// ping at the given cadence.
func (c *Connection) writePump(heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug().Err(err).Msg("Write failed, closing connection")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump consumes inbound frames until the socket dies, misses its
// heartbeat, or goes idle. A pong must arrive within two ping intervals or
// the connection is terminated with HEARTBEAT_TIMEOUT; data frames must
// arrive within idle or it is terminated with IDLE_TIMEOUT, bounding
// resource use from abandoned clients whose transport still answers pings.
// onClose runs exactly once when the pump exits.
func (c *Connection) readPump(idle, heartbeat time.Duration, onMessage func(*Connection, []byte), onClose func(*Connection)) {
	defer onClose(c)

	pongWait := 2 * heartbeat
	lastData := time.Now()

	deadline := func() time.Time {
		idleAt := lastData.Add(idle)
		pongAt := time.Now().Add(pongWait)
		if idleAt.Before(pongAt) {
			return idleAt
		}
		return pongAt
	}

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(deadline())
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(deadline())
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				if time.Since(lastData) >= idle {
					c.log.Info().Msg("Connection idle, terminating")
					c.Close(protocol.CloseIdleTimeout)
				} else {
					c.log.Info().Msg("Heartbeat missed, terminating")
					c.Close(protocol.CloseHeartbeatTimeout)
				}
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.log.Debug().Msg("Connection closed by client")
			default:
				c.log.Debug().Err(err).Msg("Read failed")
			}
			c.Close("")
			return
		}

		lastData = time.Now()
		_ = c.ws.SetReadDeadline(deadline())
		onMessage(c, data)
	}
}
