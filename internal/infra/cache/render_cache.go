// Package cache stores rendered documents in Redis keyed by their inputs.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"docx-renderer/internal/infra/logging"
)

const (
	keyPrefix  = "docxcache:"
	opTimeout  = time.Second
	defaultTTL = time.Minute
)

// RenderCache is a Redis-backed cache of rendered documents.
type RenderCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New returns a cache writing entries with ttl. A non-positive ttl uses one minute.
func New(rdb *redis.Client, ttl time.Duration) *RenderCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RenderCache{rdb: rdb, ttl: ttl}
}

// Key derives the cache key from the template bytes and the data mapping.
// Map keys are encoded in sorted order so equal data gives equal keys.
func Key(template []byte, data map[string]any) (string, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(template)
	h.Write([]byte{0})
	h.Write(encoded)
	return keyPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// Get returns the cached document for key. Misses and Redis failures both
// report ok=false; failures are logged.
func (c *RenderCache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	doc, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		logging.Warn("Redis read failed", "error", err)
		return nil, false
	}
	logging.Info("Render cache hit", "key", key)
	return doc, true
}

// Set stores doc under key. Failures are logged and otherwise ignored.
func (c *RenderCache) Set(ctx context.Context, key string, doc []byte) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.rdb.Set(ctx, key, doc, c.ttl).Err(); err != nil {
		logging.Warn("Redis write failed", "error", err)
	}
}
