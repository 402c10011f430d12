package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	require.Equal(t, 30*time.Second, cfg.TicketTTL)
	require.Equal(t, 90*time.Second, cfg.PendingTTL)
	require.Equal(t, 50, cfg.BacklogLimit)
	require.Equal(t, 2*time.Minute, cfg.BacklogTTL)
	require.Equal(t, "status", cfg.DefaultChannel)
	require.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	require.Equal(t, 15*time.Minute, cfg.IdleTimeout)
}

func TestValidate(t *testing.T) {
	t.Run("defaults validate", func(t *testing.T) {
		cfg := Default()
		require.NoError(t, cfg.Validate())
	})

	t.Run("empty origin list rejected", func(t *testing.T) {
		cfg := Default()
		cfg.AllowedOrigins = nil
		require.ErrorIs(t, cfg.Validate(), ErrNoOrigins)
	})

	t.Run("production wildcard replaced with fallback", func(t *testing.T) {
		cfg := Default()
		cfg.Production = true
		cfg.AllowedOrigins = []string{"*"}
		cfg.FallbackOrigin = "https://app.example.com"

		require.NoError(t, cfg.Validate())
		require.Equal(t, []string{"https://app.example.com"}, cfg.AllowedOrigins)
	})

	t.Run("production wildcard without fallback rejected", func(t *testing.T) {
		cfg := Default()
		cfg.Production = true
		cfg.AllowedOrigins = []string{"*"}

		require.ErrorIs(t, cfg.Validate(), ErrNoFallbackOrigin)
	})

	t.Run("production insecure origin rejected", func(t *testing.T) {
		cfg := Default()
		cfg.Production = true
		cfg.AllowedOrigins = []string{"http://app.example.com"}

		require.ErrorIs(t, cfg.Validate(), ErrInsecureOrigin)
	})

	t.Run("production deduplicates fallback substitutions", func(t *testing.T) {
		cfg := Default()
		cfg.Production = true
		cfg.AllowedOrigins = []string{"*", "https://*.example.com", "https://app.example.com"}
		cfg.FallbackOrigin = "https://app.example.com"

		require.NoError(t, cfg.Validate())
		require.Equal(t, []string{"https://app.example.com"}, cfg.AllowedOrigins)
	})

	t.Run("mandatory auth requires a ticket store", func(t *testing.T) {
		cfg := Default()
		cfg.RequireAuth = true

		require.ErrorIs(t, cfg.Validate(), ErrTicketStoreConfig)

		cfg.RedisAddr = "localhost:6379"
		require.NoError(t, cfg.Validate())
	})

	t.Run("non-positive backlog limit restored to default", func(t *testing.T) {
		cfg := Default()
		cfg.BacklogLimit = 0

		require.NoError(t, cfg.Validate())
		require.Equal(t, 50, cfg.BacklogLimit)
	})
}

func TestOriginAllowed(t *testing.T) {
	cfg := Default()
	cfg.AllowedOrigins = []string{"https://app.example.com"}

	require.True(t, cfg.OriginAllowed("https://app.example.com"))
	require.True(t, cfg.OriginAllowed("HTTPS://APP.EXAMPLE.COM"))
	require.False(t, cfg.OriginAllowed("https://other.example.com"))

	cfg.AllowedOrigins = []string{"*"}
	require.True(t, cfg.OriginAllowed("https://anything.example.com"))
}
