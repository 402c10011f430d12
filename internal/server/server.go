package server

import (
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/jobstream/internal/config"
	httpmiddleware "github.com/wolfeidau/jobstream/internal/http"
	"github.com/wolfeidau/jobstream/internal/logger"
	"github.com/wolfeidau/jobstream/internal/store"
	"github.com/wolfeidau/jobstream/internal/ticket"
	"github.com/wolfeidau/jobstream/internal/ws"
)

// Server wires the websocket manager and the HTTP API surface.
type Server struct {
	cfg      config.Config
	manager  *ws.Manager
	requests store.RequestStore
	tickets  ticket.Store
}

// NewServer creates a new server over the given manager and stores
func NewServer(cfg config.Config, manager *ws.Manager, requests store.RequestStore, tickets ticket.Store) *Server {
	return &Server{
		cfg:      cfg,
		manager:  manager,
		requests: requests,
		tickets:  tickets,
	}
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler(log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint for load balancer
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("/ws", s.manager.HandleUpgrade)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/tickets", s.handleCreateTicket)
	api.HandleFunc("POST /api/v1/requests", s.handleCreateRequest)
	api.HandleFunc("POST /api/v1/requests/{id}/events", s.handlePublishEvent)
	api.HandleFunc("GET /api/v1/stats", s.handleStats)

	mux.Handle("/api/v1/", withCORS(s.cfg.AllowedOrigins, api))

	// Client IP middleware for audit logging
	clientIP := httpmiddleware.ClientIPMiddleware()

	return logger.NewRequests(log, clientIP(mux))
}

// withCORS adds CORS support for browser clients calling the API routes.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return middleware.Handler(h)
}
