package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, "redis", cfg.SessionStore)
	assert.Equal(t, 720*time.Hour, cfg.SessionTTL)
	assert.Equal(t, []string{"/auth/logout"}, cfg.CSRFExemptPaths)
	assert.False(t, cfg.CSRFRotateOnSuccess)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.Equal(t, "@every 30m", cfg.CatalogStatsCron)
	assert.Equal(t, ":9091", cfg.WorkerMetricsAddr)
	assert.Empty(t, cfg.GotenbergURL)
	assert.Equal(t, int32(10), cfg.PGMaxConns)
	assert.Equal(t, 30*time.Second, cfg.GotenbergTimeout)
	assert.False(t, cfg.IsProduction())

	policy := cfg.RedirectPolicy()
	assert.True(t, policy.Strict)
	assert.Contains(t, policy.AllowedDomains, "topoclimb.ch")
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("APP_ENV", "production")
	t.Setenv("SESSION_STORE", "memory")
	t.Setenv("CSRF_EXEMPT_PATHS", "/auth/logout,/hooks/**")
	t.Setenv("REDIRECT_ALLOWED_DOMAINS", " topo.example , ")
	t.Setenv("REDIRECT_ALLOWED_PATHS", "/routes,/sectors")
	t.Setenv("REDIRECT_STRICT", "false")
	t.Setenv("GOTENBERG_URL", "http://gotenberg:3000")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "http://gotenberg:3000", cfg.GotenbergURL)
	assert.Equal(t, []string{"/auth/logout", "/hooks/**"}, cfg.CSRFExemptPaths)

	policy := cfg.RedirectPolicy()
	assert.Equal(t, []string{"topo.example"}, policy.AllowedDomains)
	assert.Equal(t, []string{"/routes", "/sectors"}, policy.AllowedPaths)
	assert.False(t, policy.Strict)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("SESSION_STORE", "postgres")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, `unknown session store "postgres"`)
}

func TestNewLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("route", "/routes"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "/routes", entry["route"])

	assert.Equal(t, slog.LevelInfo, parseLevel("loud"))
	assert.Equal(t, slog.LevelDebug, parseLevel(" debug "))
}
