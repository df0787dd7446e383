package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, ":3001", cfg.Address())
	assert.False(t, cfg.Cache.RenderCacheEnabled)
	assert.False(t, cfg.Auth.Enabled)
}

func TestLoad_PortFromEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("PORT", "8080")
	t.Setenv("HOST", "127.0.0.1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Address())
}

func TestLoad_InvalidPortFromEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("PORT", "http")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("PORT", "70000")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'port'")
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: "0.0.0.0"
  port: 4000
  body_limit_mb: 8
limits:
  max_template_bytes: 1024
logger:
  level: "debug"
cache:
  render_cache_enabled: true
  render_cache_ttl: 2m
  redis_host: "redis:6379"
rate_limiter:
  interval: 30s
  user_limit: 5
`), 0o644))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:4000", cfg.Address())
	assert.Equal(t, 8, cfg.Server.BodyLimitMB)
	assert.Equal(t, 1024, cfg.Limits.MaxTemplateBytes)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.True(t, cfg.Cache.RenderCacheEnabled)
	assert.Equal(t, 2*time.Minute, cfg.Cache.RenderCacheTTL)
	assert.Equal(t, 30*time.Second, cfg.RateLimiter.Interval)
	assert.Equal(t, 5, cfg.RateLimiter.UserLimit)
	// untouched defaults survive
	assert.Equal(t, 50, cfg.Logger.MaxSizeMB)
}

func TestLoad_FileErrors(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o644))
	t.Setenv("CONFIG_PATH", path)
	_, err = Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, Validate(cfg))

	bad := Default()
	bad.Logger.Level = "loud"
	err := Validate(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'level'")

	auth := Default()
	auth.Auth.Enabled = true
	assert.ErrorIs(t, Validate(auth), ErrAuthWithoutPostgres)

	auth.Auth.Postgres.Host = "localhost"
	assert.NoError(t, Validate(auth))
}
