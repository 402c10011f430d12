package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/jobstream/internal/config"
	httpmiddleware "github.com/wolfeidau/jobstream/internal/http"
	"github.com/wolfeidau/jobstream/internal/protocol"
	"github.com/wolfeidau/jobstream/internal/telemetry"
	"github.com/wolfeidau/jobstream/internal/ticket"
)

// Reject reasons. Each maps to a structured close code+reason; a verification
// failure never results in a bare close.
const (
	RejectOriginBlocked    = "origin_blocked"
	RejectInvalidTicket    = "invalid_ticket"
	RejectExpiredTicket    = "expired_ticket"
	RejectStoreUnavailable = "store_unavailable"
)

// RejectError is a typed verification failure.
type RejectError struct {
	Reason string
	Err    error
}

func (e *RejectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *RejectError) Unwrap() error { return e.Err }

// CloseReason maps the rejection onto the wire-level close reason sent to the
// client before the socket is dropped.
func (e *RejectError) CloseReason() string {
	if e.Reason == RejectOriginBlocked {
		return protocol.CloseOriginBlocked
	}
	return protocol.CloseNotAuthorized
}

// Verifier validates connection requests: origin allow-list first, then a
// one-time ticket or bearer JWT establishing the immutable identity.
type Verifier struct {
	cfg     config.Config
	tickets ticket.Store
	jwt     *jwtVerifier
}

// NewVerifier creates a Verifier. The JWT verifier is optional and only
// enabled when a public key is configured.
func NewVerifier(cfg config.Config, tickets ticket.Store) (*Verifier, error) {
	v := &Verifier{cfg: cfg, tickets: tickets}

	if cfg.JWTPublicKey != "" {
		jv, err := newJWTVerifierFromPEM(cfg.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("configure JWT verifier: %w", err)
		}
		v.jwt = jv
	}

	return v, nil
}

// Verify checks the upgrade request and produces the connection identity.
// The identity is fixed here, at handshake time, and is authoritative for the
// connection's lifetime. Failures are returned as *RejectError.
func (v *Verifier) Verify(ctx context.Context, r *http.Request) (*Identity, error) {
	if origin := r.Header.Get("Origin"); origin != "" {
		if !v.cfg.OriginAllowed(origin) {
			log.Warn().Str("origin", origin).Str("client_ip", httpmiddleware.ExtractClientIP(r)).Msg("Origin blocked")
			return nil, &RejectError{Reason: RejectOriginBlocked}
		}
		if v.cfg.Production && !strings.HasPrefix(origin, "https://") && !strings.HasPrefix(origin, "wss://") {
			return nil, &RejectError{Reason: RejectOriginBlocked, Err: errors.New("insecure origin")}
		}
	}

	if ticketID := r.URL.Query().Get("ticket"); ticketID != "" {
		return v.claimTicket(ctx, ticketID)
	}

	if tokenStr, ok := bearerToken(r); ok && v.jwt != nil {
		identity, err := v.jwt.ParseIdentity(tokenStr)
		if err != nil {
			return nil, &RejectError{Reason: RejectInvalidTicket, Err: err}
		}
		return identity, nil
	}

	if v.cfg.RequireAuth {
		return nil, &RejectError{Reason: RejectInvalidTicket, Err: errors.New("no credentials presented")}
	}

	return Anonymous(), nil
}

// claimTicket atomically consumes the one-time ticket. When auth is mandatory
// and the ticket store is unreachable, verification fails closed rather than
// falling back to anonymous.
func (v *Verifier) claimTicket(ctx context.Context, ticketID string) (*Identity, error) {
	payload, err := v.tickets.GetAndDelete(ctx, ticketID)
	if err != nil {
		switch {
		case errors.Is(err, ticket.ErrTicketNotFound):
			telemetry.GetMetrics().TicketsExpiredTotal.Add(ctx, 1)
			return nil, &RejectError{Reason: RejectInvalidTicket, Err: err}
		case errors.Is(err, ticket.ErrTicketExpired):
			telemetry.GetMetrics().TicketsExpiredTotal.Add(ctx, 1)
			return nil, &RejectError{Reason: RejectExpiredTicket, Err: err}
		default:
			log.Error().Err(err).Msg("Ticket store unreachable during verification")
			if v.cfg.RequireAuth {
				return nil, &RejectError{Reason: RejectStoreUnavailable, Err: err}
			}
			return Anonymous(), nil
		}
	}

	if time.Since(payload.IssuedAt) > v.cfg.TicketTTL {
		telemetry.GetMetrics().TicketsExpiredTotal.Add(ctx, 1)
		return nil, &RejectError{Reason: RejectExpiredTicket, Err: ticket.ErrTicketExpired}
	}

	telemetry.GetMetrics().TicketsClaimedTotal.Add(ctx, 1)

	return &Identity{
		SessionID:   payload.SessionID,
		UserID:      payload.UserID,
		ClientID:    payload.ClientID,
		ConnectedAt: time.Now(),
	}, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}
