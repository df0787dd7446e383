// Package app assembles the fiber application: middleware, routes and error handling.
package app

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"docx-renderer/internal/config"
	"docx-renderer/internal/docx"
	"docx-renderer/internal/domain"
	"docx-renderer/internal/handlers"
	"docx-renderer/internal/infra/cache"
	"docx-renderer/internal/infra/metrics"
	"docx-renderer/internal/infra/tokens"
)

// Deps are the collaborators built by main. Everything except Config is optional.
type Deps struct {
	Config config.Config
	// Redis backs the render cache when Config.Cache.RenderCacheEnabled is set.
	Redis *redis.Client
	// Tokens enables X-API-Key authentication and per-token rate limits.
	Tokens *tokens.Store
	// Registry receives the service metrics. A private registry is used when nil.
	Registry *prometheus.Registry
}

// SetupApp creates and configures a new Fiber app instance.
func SetupApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		Prefork:               d.Config.Server.Prefork,
		DisableStartupMessage: true,
		BodyLimit:             d.Config.Server.BodyLimitMB * 1024 * 1024,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          handlers.ErrorHandler,
	})

	reg := d.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.New(reg)

	RegisterMiddleware(app, d.Config, d.Tokens, m)
	RegisterRoutes(app, d, m, reg)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Cannot "+c.Method()+" "+c.Path())
	})

	return app
}

// RegisterRoutes mounts all route handlers to the app.
func RegisterRoutes(app *fiber.App, d Deps, m *metrics.Metrics, g prometheus.Gatherer) {
	var rc *cache.RenderCache
	if d.Redis != nil && d.Config.Cache.RenderCacheEnabled {
		rc = cache.New(d.Redis, d.Config.Cache.RenderCacheTTL)
	}

	opts := docx.DefaultOptions()
	if d.Config.Limits.MaxUncompressedBytes > 0 {
		opts.MaxUncompressedBytes = d.Config.Limits.MaxUncompressedBytes
	}

	// One shared service instance serves every render request.
	svc := handlers.NewRenderService(d.Config, docx.NewEngine(opts), rc, m)

	app.Get("/health", handlers.HandleHealth)
	app.Post("/render-docx", svc.HandleRender)

	app.Get("/monitor", monitor.New(monitor.Config{Title: domain.ServiceName + " metrics"}))
	app.Get("/metrics", metrics.Handler(g))
}
