package app

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"
	"github.com/rs/xid"

	"docx-renderer/internal/config"
	"docx-renderer/internal/domain"
	"docx-renderer/internal/infra/logging"
	"docx-renderer/internal/infra/metrics"
	"docx-renderer/internal/infra/tokens"
)

const (
	apiKeyHeader = "X-API-Key"
	apiKeyLocal  = "api_key"
)

// isHealthPath reports whether path is one of the probe endpoints, which are
// never authenticated or rate limited.
func isHealthPath(path string) bool {
	switch path {
	case "/health", "/livez", "/readyz":
		return true
	}
	return false
}

func skipHealth(c *fiber.Ctx) bool {
	return isHealthPath(c.Path())
}

// rateLimits owns the limiter storage and the per-token limiter handlers.
type rateLimits struct {
	cfg    config.Config
	store  fiber.Storage
	tokens *tokens.Store

	mu       sync.RWMutex
	handlers map[int]fiber.Handler
}

func newRateLimits(cfg config.Config, store fiber.Storage, ts *tokens.Store) *rateLimits {
	return &rateLimits{cfg: cfg, store: store, tokens: ts, handlers: make(map[int]fiber.Handler)}
}

// newLimiterStore returns Redis-backed limiter storage when a Redis host is
// configured and reachable, in-memory storage otherwise.
func newLimiterStore(cfg config.Config) (store fiber.Storage) {
	store = memoryStorage.New() // safe default
	if cfg.Cache.RedisHost == "" {
		logging.Info("Using in-memory storage for rate limiting")
		return store
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Redis limiter store init panicked, falling back to memory", "panic", r)
		}
	}()
	store = redisStorage.New(redisStorage.Config{
		Addrs:    []string{cfg.Cache.RedisHost},
		Database: cfg.Cache.RateLimitDB,
	})
	logging.Info("Using Redis for rate limiting", "addr", cfg.Cache.RedisHost, "db", cfg.Cache.RateLimitDB)
	return store
}

func tooManyRequests(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(domain.ErrorResponse{
		Error:   "Too Many Requests",
		Details: "rate limit exceeded, retry later",
	})
}

// tokenLimiter returns a cached limiter for the given token limit, creating one if needed.
func (rl *rateLimits) tokenLimiter(limit int) fiber.Handler {
	rl.mu.RLock()
	h, ok := rl.handlers[limit]
	rl.mu.RUnlock()
	if ok {
		return h
	}

	h = limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        rl.cfg.RateLimiter.Interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           rl.store,
		Next:              skipHealth,
		KeyGenerator: func(c *fiber.Ctx) string {
			if token, ok := c.Locals(apiKeyLocal).(string); ok {
				return token
			}
			return ""
		},
		LimitReached: func(c *fiber.Ctx) error {
			token, _ := c.Locals(apiKeyLocal).(string)
			logging.Warn("Rate limit exceeded", "token", token, "path", c.Path())
			return tooManyRequests(c)
		},
	})

	rl.mu.Lock()
	if existing, ok := rl.handlers[limit]; ok {
		h = existing
	} else {
		rl.handlers[limit] = h
	}
	rl.mu.Unlock()
	return h
}

// tokenMiddleware applies the rate limit stored with the caller's API token.
func (rl *rateLimits) tokenMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := c.Locals(apiKeyLocal).(string)
		if !ok || token == "" || rl.tokens == nil {
			return c.Next()
		}
		limit := rl.tokens.RateLimit(token)
		if limit == 0 {
			return c.Next()
		}
		return rl.tokenLimiter(limit)(c)
	}
}

func userKey(c *fiber.Ctx) string {
	sum := sha256.Sum256([]byte(c.IP() + c.Get(fiber.HeaderUserAgent)))
	return hex.EncodeToString(sum[:])
}

// userMiddleware limits anonymous requests by client address and user agent.
func (rl *rateLimits) userMiddleware() fiber.Handler {
	if rl.cfg.RateLimiter.UserLimit <= 0 {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}
	userLimiter := limiter.New(limiter.Config{
		Max:               rl.cfg.RateLimiter.UserLimit,
		Expiration:        rl.cfg.RateLimiter.Interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           rl.store,
		Next:              skipHealth,
		KeyGenerator:      userKey,
		LimitReached: func(c *fiber.Ctx) error {
			logging.Warn("Rate limit exceeded", "user", userKey(c), "path", c.Path())
			return tooManyRequests(c)
		},
	})
	return func(c *fiber.Ctx) error {
		// Authenticated requests are limited by their token instead.
		if token, ok := c.Locals(apiKeyLocal).(string); ok && token != "" {
			return c.Next()
		}
		return userLimiter(c)
	}
}

// keyAuth validates X-API-Key against the token store. Requests without a
// key pass through to the per-user limiter.
func keyAuth(ts *tokens.Store) fiber.Handler {
	return keyauth.New(keyauth.Config{
		KeyLookup:  "header:" + apiKeyHeader,
		ContextKey: apiKeyLocal,
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if !ts.Ready() {
				return false, tokens.ErrStoreNotReady
			}
			if !ts.Validate(key) {
				return false, tokens.ErrInvalidAPIKey
			}
			return true, nil
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || c.Get(apiKeyHeader) == "" || isHealthPath(c.Path())
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// keyauth may call ErrorHandler with a nil error.
			status := fiber.StatusUnauthorized
			if err == nil {
				err = fiber.ErrUnauthorized
			}
			if errors.Is(err, tokens.ErrStoreNotReady) {
				status = fiber.StatusServiceUnavailable
			}
			logging.Warn("API key rejected", "path", c.Path(), "status", status, "error", err)
			return c.Status(status).JSON(domain.ErrorResponse{
				Error:   "Unauthorized",
				Details: err.Error(),
			})
		},
	})
}

// RegisterMiddleware attaches global middleware to the app.
func RegisterMiddleware(app *fiber.App, cfg config.Config, ts *tokens.Store, m *metrics.Metrics) {
	rl := newRateLimits(cfg, newLimiterStore(cfg), ts)

	app.Use(fiberrecover.New())

	app.Use(cors.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New())

	app.Use(m.Middleware())

	if ts != nil {
		app.Use(keyAuth(ts))
		app.Use(rl.tokenMiddleware())
	}

	if cfg.RateLimiter.EnableUserLimiter || cfg.RateLimiter.UserLimit > 0 {
		app.Use(rl.userMiddleware())
	}

	app.Use(func(c *fiber.Ctx) error {
		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = c.GetRespHeader(fiber.HeaderXRequestID)
		}
		logging.Info("Incoming request", "method", c.Method(), "path", c.Path(), "request_id", requestID)
		return c.Next()
	})
}
