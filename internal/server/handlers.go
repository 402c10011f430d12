package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/jobstream/internal/protocol"
	"github.com/wolfeidau/jobstream/internal/store"
	"github.com/wolfeidau/jobstream/internal/telemetry"
	"github.com/wolfeidau/jobstream/internal/ticket"
)

type createTicketRequest struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	ClientID  string `json:"clientId,omitempty"`
}

type createTicketResponse struct {
	Ticket    string `json:"ticket"`
	ExpiresIn int    `json:"expiresIn"`
}

// handleCreateTicket issues a one-time websocket ticket bound to the caller's
// session. Tickets keep credentials out of websocket URLs beyond a single
// short-lived claim.
func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	id, err := s.tickets.Create(r.Context(), &ticket.Payload{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		ClientID:  req.ClientID,
		IssuedAt:  time.Now(),
	}, s.cfg.TicketTTL)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to create ticket")
		writeError(w, http.StatusServiceUnavailable, "ticket store unavailable")
		return
	}

	telemetry.GetMetrics().TicketsIssuedTotal.Add(r.Context(), 1)

	writeJSON(w, http.StatusCreated, createTicketResponse{
		Ticket:    id,
		ExpiresIn: int(s.cfg.TicketTTL.Seconds()),
	})
}

type createRequestRequest struct {
	RequestID string `json:"requestId,omitempty"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
}

type createRequestResponse struct {
	RequestID string `json:"requestId"`
	Activated int    `json:"activated"`
}

// handleCreateRequest registers a pipeline request with its owner session and
// immediately promotes any subscriptions parked waiting for it.
func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var req createRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	if req.RequestID == "" {
		req.RequestID = uuid.Must(uuid.NewV7()).String()
	}

	owner := store.Owner{SessionID: req.SessionID, UserID: req.UserID}
	if err := s.requests.CreateRequest(r.Context(), req.RequestID, owner); err != nil {
		switch {
		case errors.Is(err, store.ErrRequestExists):
			writeError(w, http.StatusConflict, "request owned by another session")
		default:
			zerolog.Ctx(r.Context()).Error().Err(err).Str("request_id", req.RequestID).
				Msg("Failed to create request")
			writeError(w, http.StatusServiceUnavailable, "request store unavailable")
		}
		return
	}

	activated := s.manager.ActivatePendingSubscriptions(req.RequestID, req.SessionID)

	writeJSON(w, http.StatusCreated, createRequestResponse{
		RequestID: req.RequestID,
		Activated: activated,
	})
}

type publishEventRequest struct {
	Channel string `json:"channel,omitempty"`
	Type    string `json:"type"`
	// SessionID is advisory. Ownership is enforced at subscribe time against
	// the handshake identity, never against publisher-supplied fields.
	SessionID string         `json:"sessionId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type publishEventResponse struct {
	Sent       int  `json:"sent"`
	Failed     int  `json:"failed"`
	Backlogged bool `json:"backlogged"`
}

// handlePublishEvent is the publish path for pipeline stages. Events for
// requests without a live subscriber are backlogged, never dropped.
func (s *Server) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("id")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "request id is required")
		return
	}

	var req publishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	channel := req.Channel
	if channel == "" {
		channel = s.cfg.DefaultChannel
	}

	res, err := s.manager.PublishToChannel(channel, requestID, protocol.Payload{
		Type: req.Type,
		Data: req.Data,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "event not serializable")
		return
	}

	writeJSON(w, http.StatusOK, publishEventResponse{
		Sent:       res.Sent,
		Failed:     res.Failed,
		Backlogged: res.Backlogged,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
