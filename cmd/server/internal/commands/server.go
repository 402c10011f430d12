package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfeidau/jobstream/internal/auth"
	"github.com/wolfeidau/jobstream/internal/config"
	"github.com/wolfeidau/jobstream/internal/logger"
	"github.com/wolfeidau/jobstream/internal/server"
	"github.com/wolfeidau/jobstream/internal/store"
	postgresstore "github.com/wolfeidau/jobstream/internal/store/postgres"
	"github.com/wolfeidau/jobstream/internal/telemetry"
	"github.com/wolfeidau/jobstream/internal/ticket"
	"github.com/wolfeidau/jobstream/internal/ws"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"localhost:8443" env:"JOBSTREAM_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"JOBSTREAM_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"JOBSTREAM_TLS_KEY"`

	// Origin policy
	AllowedOrigins []string `help:"allowed origins for websocket and API requests" default:"*" env:"JOBSTREAM_ALLOWED_ORIGINS"`
	FallbackOrigin string   `help:"origin substituted for wildcards in production" default:"" env:"JOBSTREAM_FALLBACK_ORIGIN"`
	Production     bool     `help:"enable production hardening (no wildcard origins, https only)" default:"false" env:"JOBSTREAM_PRODUCTION"`

	// Identity configuration
	RequireAuth  bool   `help:"require a ticket or JWT on every connection" default:"false" env:"JOBSTREAM_REQUIRE_AUTH"`
	RedisAddr    string `help:"redis address for the one-time ticket store" default:"" env:"JOBSTREAM_REDIS_ADDR"`
	JWTPublicKey string `help:"path to PEM encoded ES256 public key for bearer tokens" default:"" env:"JOBSTREAM_JWT_PUBLIC_KEY"`

	// Subscription lifecycle
	TicketTTL         time.Duration `help:"one-time ticket lifetime" default:"30s" env:"JOBSTREAM_TICKET_TTL"`
	PendingTTL        time.Duration `help:"pending subscription lifetime" default:"90s" env:"JOBSTREAM_PENDING_TTL"`
	BacklogLimit      int           `help:"max backlog entries per subscription key" default:"50" env:"JOBSTREAM_BACKLOG_LIMIT"`
	BacklogTTL        time.Duration `help:"backlog entry lifetime" default:"2m" env:"JOBSTREAM_BACKLOG_TTL"`
	DefaultChannel    string        `help:"channel used when a message omits one" default:"status" env:"JOBSTREAM_DEFAULT_CHANNEL"`
	HeartbeatInterval time.Duration `help:"websocket ping cadence" default:"30s" env:"JOBSTREAM_HEARTBEAT_INTERVAL"`
	IdleTimeout       time.Duration `help:"terminate connections silent for this long" default:"15m" env:"JOBSTREAM_IDLE_TIMEOUT"`

	// Operational modes
	Tracing bool `help:"enable tracing" default:"false" env:"JOBSTREAM_TRACING"`

	// Store configuration
	StoreType     string             `help:"request store type (memory or postgres)" default:"memory" env:"JOBSTREAM_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"JOBSTREAM_POSTGRES_AUTO_MIGRATE"`
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	// Setup telemetry if enabled
	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "jobstream-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	cfg, err := c.resolveConfig()
	if err != nil {
		return err
	}

	// Ticket store, redis when configured so tickets are single-use across
	// replicas, in-memory otherwise
	var tickets ticket.Store
	if c.RedisAddr != "" {
		redisStore, err := ticket.NewRedisStore(ctx, c.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to connect to redis ticket store: %w", err)
		}
		defer func() {
			if err := redisStore.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close redis ticket store")
			}
		}()
		tickets = redisStore
		log.Info().Str("addr", c.RedisAddr).Msg("Using redis ticket store")
	} else {
		tickets = ticket.NewMemoryStore()
		log.Info().Msg("Using in-memory ticket store")
	}

	// Request owner store
	var requests store.RequestStore
	switch c.StoreType {
	case "postgres":
		poolCfg := &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		}
		pool, err := postgresstore.NewPool(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()

		if c.PostgresStore.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		requests = postgresstore.NewRequestStore(pool)
		log.Info().Msg("Using PostgreSQL request store")
	default:
		requests = store.NewMemoryRequestStore()
		log.Info().Msg("Using in-memory request store")
	}

	if err := requests.Start(); err != nil {
		return fmt.Errorf("failed to start request store: %w", err)
	}
	defer func() {
		if err := requests.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop request store")
		}
	}()

	verifier, err := auth.NewVerifier(cfg, tickets)
	if err != nil {
		return fmt.Errorf("failed to create verifier: %w", err)
	}

	manager := ws.NewManager(cfg, verifier, requests, log)
	handler := server.NewServer(cfg, manager, requests, tickets).Handler(log)

	httpServer := configureHTTPServer(c.Listen, handler)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if c.Cert != "" && c.Key != "" {
			log.Info().Str("addr", c.Listen).Msg("Starting HTTPS server")
			errCh <- httpServer.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		if c.Production {
			errCh <- errors.New("TLS certificate and key are required in production (--cert and --key)")
			return
		}
		log.Warn().Str("addr", c.Listen).Msg("Starting HTTP server without TLS, development only")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
	}

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	return manager.Shutdown(shutdownCtx)
}

// resolveConfig overlays the CLI flags on the defaults and validates the
// result.
func (c *ServerCmd) resolveConfig() (config.Config, error) {
	cfg := config.Default()
	cfg.AllowedOrigins = c.AllowedOrigins
	cfg.FallbackOrigin = c.FallbackOrigin
	cfg.Production = c.Production
	cfg.RequireAuth = c.RequireAuth
	cfg.RedisAddr = c.RedisAddr
	cfg.TicketTTL = c.TicketTTL
	cfg.PendingTTL = c.PendingTTL
	cfg.BacklogLimit = c.BacklogLimit
	cfg.BacklogTTL = c.BacklogTTL
	cfg.DefaultChannel = c.DefaultChannel
	cfg.HeartbeatInterval = c.HeartbeatInterval
	cfg.IdleTimeout = c.IdleTimeout

	if c.JWTPublicKey != "" {
		pem, err := os.ReadFile(c.JWTPublicKey)
		if err != nil {
			return cfg, fmt.Errorf("failed to read JWT public key: %w", err)
		}
		cfg.JWTPublicKey = string(pem)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
