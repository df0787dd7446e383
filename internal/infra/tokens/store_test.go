package tokens

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docx-renderer/internal/config"
)

func TestLoadMapAndValidation(t *testing.T) {
	s := NewStore(config.PostgresConfig{})
	assert.False(t, s.Ready())

	s.LoadMap(map[string]int{"a": 5, "b": 10})

	assert.True(t, s.Ready())
	assert.True(t, s.Validate("a"))
	assert.Equal(t, 5, s.RateLimit("a"))
	assert.True(t, s.Validate("b"))
	assert.Equal(t, 10, s.RateLimit("b"))
	assert.False(t, s.Validate("c"))
	assert.Equal(t, 0, s.RateLimit("c"))
}

func TestLoadMapReplacesCache(t *testing.T) {
	s := NewStore(config.PostgresConfig{})
	src := map[string]int{"a": 5, "b": 10}
	s.LoadMap(src)
	src["z"] = 1
	assert.False(t, s.Validate("z"), "store must copy the input map")

	s.LoadMap(map[string]int{"a": 7, "c": 12})
	assert.Equal(t, 7, s.RateLimit("a"))
	assert.False(t, s.Validate("b"))
	assert.Equal(t, 12, s.RateLimit("c"))
}

func TestDSN_BuildsURL(t *testing.T) {
	dsn, err := DSN(config.PostgresConfig{
		Host:     "localhost",
		Database: "renderer",
		User:     "user",
		Password: "p@ss word",
		SSLMode:  "disable",
	})
	require.NoError(t, err)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "localhost:5432", u.Host)
	assert.Equal(t, "/renderer", u.Path)
	assert.Equal(t, "user", u.User.Username())
	pw, ok := u.User.Password()
	assert.True(t, ok)
	assert.Equal(t, "p@ss word", pw)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
}

func TestDSN_HostVariants(t *testing.T) {
	base := config.PostgresConfig{Database: "db", User: "u", Port: 6543}

	for host, want := range map[string]string{
		"db.internal":    "db.internal:6543",
		"db.internal:99": "db.internal:99",
		"::1":            "[::1]:6543",
		"[::1]":          "[::1]:6543",
		"[::1]:7000":     "[::1]:7000",
	} {
		cfg := base
		cfg.Host = host
		dsn, err := DSN(cfg)
		require.NoError(t, err, host)
		u, err := url.Parse(dsn)
		require.NoError(t, err, host)
		assert.Equal(t, want, u.Host, host)
	}
}

func TestDSN_PassthroughAndErrors(t *testing.T) {
	raw := "postgres://u:p@localhost:5432/db?sslmode=disable"
	dsn, err := DSN(config.PostgresConfig{Host: raw})
	require.NoError(t, err)
	assert.Equal(t, raw, dsn)

	_, err = DSN(config.PostgresConfig{})
	assert.Error(t, err)
	_, err = DSN(config.PostgresConfig{Host: "h"})
	assert.Error(t, err)
	_, err = DSN(config.PostgresConfig{Host: "h", Database: "d"})
	assert.Error(t, err)
}

func TestLoad_FailsWithoutDatabase(t *testing.T) {
	s := NewStore(config.PostgresConfig{Host: "127.0.0.1", Port: 1, Database: "d", User: "u", SSLMode: "disable"})
	err := s.Load(context.Background())
	assert.Error(t, err)
	assert.False(t, s.Ready())
	assert.NoError(t, s.Close())
}

func TestRefreshPeriodicallyStops(t *testing.T) {
	s := NewStore(config.PostgresConfig{})
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.RefreshPeriodically(time.Hour, stop)
		close(done)
	}()
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresh loop did not stop")
	}
}
