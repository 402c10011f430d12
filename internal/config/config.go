package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Sentinel errors for configuration validation.
var (
	ErrNoOrigins         = errors.New("no allowed origins configured")
	ErrNoFallbackOrigin  = errors.New("production mode requires a fallback origin when wildcards are configured")
	ErrInsecureOrigin    = errors.New("production mode requires https origins")
	ErrTicketStoreConfig = errors.New("ticket store address required when auth is mandatory")
)

// Config is the immutable runtime configuration for the channel subsystem.
// It is resolved once at startup from CLI flags and environment variables and
// never mutated afterwards.
type Config struct {
	// Origin policy
	AllowedOrigins []string
	FallbackOrigin string
	Production     bool

	// Identity
	RequireAuth  bool
	RedisAddr    string
	TicketTTL    time.Duration
	JWTPublicKey string

	// Subscription lifecycle
	PendingTTL     time.Duration
	BacklogLimit   int
	BacklogTTL     time.Duration
	DefaultChannel string

	// Connection lifecycle
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
}

// Default returns the baseline configuration. Callers overlay resolved flag
// values on top before calling Validate.
func Default() Config {
	return Config{
		AllowedOrigins:    []string{"*"},
		TicketTTL:         30 * time.Second,
		PendingTTL:        90 * time.Second,
		BacklogLimit:      50,
		BacklogTTL:        2 * time.Minute,
		DefaultChannel:    "status",
		HeartbeatInterval: 30 * time.Second,
		IdleTimeout:       15 * time.Minute,
	}
}

// Validate checks the configuration and normalizes the origin list. In
// production a wildcard origin is never honored; it is replaced with the
// configured fallback origin, and every remaining origin must be https or wss.
func (c *Config) Validate() error {
	if len(c.AllowedOrigins) == 0 {
		return ErrNoOrigins
	}

	if c.Production {
		origins := make([]string, 0, len(c.AllowedOrigins))
		for _, origin := range c.AllowedOrigins {
			if strings.Contains(origin, "*") {
				if c.FallbackOrigin == "" {
					return ErrNoFallbackOrigin
				}
				log.Warn().Str("origin", origin).Str("fallback", c.FallbackOrigin).
					Msg("Wildcard origin rejected in production, substituting fallback")
				origins = append(origins, c.FallbackOrigin)
				continue
			}
			origins = append(origins, origin)
		}
		c.AllowedOrigins = dedupe(origins)

		for _, origin := range c.AllowedOrigins {
			if !strings.HasPrefix(origin, "https://") && !strings.HasPrefix(origin, "wss://") {
				return fmt.Errorf("%w: %s", ErrInsecureOrigin, origin)
			}
		}
	}

	if c.RequireAuth && c.RedisAddr == "" {
		return ErrTicketStoreConfig
	}

	if c.BacklogLimit <= 0 {
		c.BacklogLimit = Default().BacklogLimit
	}

	return nil
}

// OriginAllowed reports whether the given Origin header value passes the
// allow-list. A wildcard entry admits everything (development only; Validate
// strips wildcards in production).
func (c *Config) OriginAllowed(origin string) bool {
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
