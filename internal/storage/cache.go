package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openphotoalbum/photo-engine/internal/logging"
)

// Cache is the explicit, decorator-replacing cache service described in
// the design notes: entries are keyed by a function name plus a digest of
// its arguments, carry a TTL, and must be invalidated explicitly on
// gallery mutations rather than relying on import-time memoization.
type Cache struct {
	rdb    *redis.Client
	logger *logging.Logger
}

// NewCache dials Redis using the given URL (redis://host:port/db).
func NewCache(url string, log *logging.Logger) (*Cache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	return &Cache{rdb: rdb, logger: log.WithField("component", "cache")}, nil
}

func (c *Cache) Close() error { return c.rdb.Close() }

func (c *Cache) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

// Key builds the function-name+argument-digest cache key.
func Key(function string, args ...interface{}) string {
	h := sha256.New()
	for _, a := range args {
		fmt.Fprintf(h, "%v|", a)
	}
	return function + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// GetOrCompute returns the cached value for key if present, otherwise
// calls compute, stores the result with ttl, and returns it. dest must be
// a pointer; compute's return value is JSON round-tripped into it.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, dest interface{}, compute func() (interface{}, error)) error {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(raw, dest)
	}
	if err != redis.Nil {
		c.logger.WithError(err).Warn("cache read failed, falling through to compute")
	}

	value, err := compute()
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, key, encoded, ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("cache write failed")
	}
	return json.Unmarshal(encoded, dest)
}

// Invalidate removes a single cache key; callers invoke this on any
// gallery mutation (new image, person merge, album rule change).
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// InvalidatePrefix removes every key starting with prefix, used when a
// mutation affects a whole family of cached computations (e.g. any
// gallery-list query after a new image lands).
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) error {
	iter := c.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
