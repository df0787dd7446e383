// Package config loads the service configuration from an optional YAML file
// (CONFIG_PATH) and environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the listening port when neither PORT nor the config file set one.
const DefaultPort = 3001

// PostgresConfig points at the database holding API tokens.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"gte=0,lte=65535"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
}

// Config is the full service configuration.
type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    int    `yaml:"port" validate:"gte=0,lte=65535"`
		Prefork bool   `yaml:"prefork"`
		// BodyLimitMB caps the request body size accepted by the server.
		BodyLimitMB int `yaml:"body_limit_mb" validate:"gte=1"`
	} `yaml:"server"`

	Limits struct {
		// MaxTemplateBytes caps the uploaded template size. 0 disables the check.
		MaxTemplateBytes int `yaml:"max_template_bytes" validate:"gte=0"`
		// MaxUncompressedBytes caps the total size of the template once unzipped.
		MaxUncompressedBytes int64 `yaml:"max_uncompressed_bytes" validate:"gte=0"`
	} `yaml:"limits"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
		MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
		MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
		MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Cache struct {
		RenderCacheEnabled bool          `yaml:"render_cache_enabled"`
		RenderCacheTTL     time.Duration `yaml:"render_cache_ttl" validate:"gte=0"`
		RedisHost          string        `yaml:"redis_host"`
		RateLimitDB        int           `yaml:"redis_rate_db" validate:"gte=0"`
		RenderCacheDB      int           `yaml:"redis_render_db" validate:"gte=0"`
	} `yaml:"cache"`

	Auth struct {
		Enabled         bool           `yaml:"enabled"`
		Postgres        PostgresConfig `yaml:"postgres"`
		RefreshInterval time.Duration  `yaml:"refresh_interval" validate:"gte=0"`
	} `yaml:"auth"`

	RateLimiter struct {
		Interval          time.Duration `yaml:"interval" validate:"gte=0"`
		UserLimit         int           `yaml:"user_limit" validate:"gte=0"`
		EnableUserLimiter bool          `yaml:"enable_user_limiter"`
	} `yaml:"rate_limiter"`
}

// ErrAuthWithoutPostgres is returned when auth is enabled without a token database.
var ErrAuthWithoutPostgres = errors.New("auth is enabled but auth.postgres.host is empty")

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	var cfg Config
	cfg.Server.Port = DefaultPort
	cfg.Server.BodyLimitMB = 32
	cfg.Limits.MaxTemplateBytes = 25 * 1024 * 1024
	cfg.Limits.MaxUncompressedBytes = 256 * 1024 * 1024
	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 50
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 14
	cfg.Cache.RenderCacheTTL = 10 * time.Minute
	cfg.Cache.RenderCacheDB = 1
	cfg.Auth.RefreshInterval = time.Minute
	cfg.RateLimiter.Interval = time.Minute
	return cfg
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_PATH if set, then environment overrides. The result is validated.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Cache.RedisHost = v
	}
	return nil
}

// Address is the host:port the server listens on.
func (c Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
