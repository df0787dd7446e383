package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"docx-renderer/internal/app"
	"docx-renderer/internal/config"
	"docx-renderer/internal/infra/logging"
	"docx-renderer/internal/infra/tokens"
)

func main() {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Warn("Failed to read .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	var rdb *redis.Client
	if cfg.Cache.RenderCacheEnabled && cfg.Cache.RedisHost != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.RenderCacheDB,
		})
		defer rdb.Close()
	}

	idleConnsClosed := make(chan struct{})

	var ts *tokens.Store
	if cfg.Auth.Enabled {
		ts = tokens.NewStore(cfg.Auth.Postgres)
		defer ts.Close()
		// The service starts anyway; keyauth answers 503 until the first load succeeds.
		if err := ts.Load(context.Background()); err != nil {
			logging.Error("Failed to load API tokens", "error", err)
		}
		go ts.RefreshPeriodically(cfg.Auth.RefreshInterval, idleConnsClosed)
	}

	a := app.SetupApp(app.Deps{Config: cfg, Redis: rdb, Tokens: ts})

	logging.Info("Starting server", "addr", cfg.Address(), "render_cache", rdb != nil, "auth", ts != nil)
	startServer(a, cfg, idleConnsClosed)
	<-idleConnsClosed
}

// startServer starts the Fiber app and blocks until a shutdown signal arrives.
func startServer(a *fiber.App, cfg config.Config, idleConnsClosed chan struct{}) {
	go func() {
		if err := a.Listen(cfg.Address()); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	// Listen for OS termination signals
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigint)
	<-sigint

	logging.Warn("Shutdown signal received, closing server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	logging.Info("Server stopped cleanly")
}
