package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the wire protocol version carried in the top-level `v` field of
// every client message. Unversioned messages are treated as version 1.
const Version = 1

// Client message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
)

// Server message types.
const (
	TypeSubAck  = "sub_ack"
	TypeSubNack = "sub_nack"
	TypePong    = "pong"
)

// Nack reasons surfaced in sub_nack messages. A nack never closes the
// connection; it rejects a single subscribe attempt.
const (
	NackSessionMismatch = "session_mismatch"
	NackInvalidRequest  = "invalid_request"
	NackUnauthorized    = "unauthorized"
)

// Sentinel errors for message decoding.
var (
	ErrUnknownType        = errors.New("unknown message type")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
)

// ClientMessage is the closed set of messages a client may send, discriminated
// by Type. SessionID on subscribe is advisory only and is never consulted for
// authorization; the handshake identity is authoritative.
type ClientMessage struct {
	V         int    `json:"v"`
	Type      string `json:"type"`
	Channel   string `json:"channel,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// DecodeClientMessage parses and validates an inbound frame.
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode client message: %w", err)
	}

	if msg.V == 0 {
		msg.V = Version
	}
	if msg.V != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, msg.V)
	}

	switch msg.Type {
	case TypeSubscribe, TypeUnsubscribe, TypePing:
		return &msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

// SubAck acknowledges a subscribe. Pending is true when the request's owner
// is not yet known and the subscription is parked awaiting activation.
type SubAck struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	RequestID string `json:"requestId"`
	Pending   bool   `json:"pending"`
}

// NewSubAck builds a sub_ack for the given subscription key parts.
func NewSubAck(channel, requestID string, pending bool) SubAck {
	return SubAck{Type: TypeSubAck, Channel: channel, RequestID: requestID, Pending: pending}
}

// SubNack rejects a single subscribe attempt with a machine-readable reason.
type SubNack struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	RequestID string `json:"requestId"`
	Reason    string `json:"reason"`
}

// NewSubNack builds a sub_nack for the given subscription key parts.
func NewSubNack(channel, requestID, reason string) SubNack {
	return SubNack{Type: TypeSubNack, Channel: channel, RequestID: requestID, Reason: reason}
}

// Pong answers an application-level ping.
type Pong struct {
	Type string `json:"type"`
}

// Payload is an application message published to a subscription key. Type and
// RequestID are always present so clients can route without probing fields.
type Payload struct {
	Type      string         `json:"type"`
	RequestID string         `json:"requestId"`
	Data      map[string]any `json:"data,omitempty"`
}
