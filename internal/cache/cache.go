// Package cache implements the read-through, write-invalidate Status
// Cache backed by Redis. Cache failures never propagate to callers: a
// Redis error is logged and treated as a cache miss, per §7's "cache
// failures swallowed" policy.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/vendordispatch/internal/job"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "job:"

// TTL policy from §4.5: terminal jobs cache longer than in-flight ones.
const (
	TTLTerminal    = time.Hour
	TTLNonTerminal = 5 * time.Minute
)

// TTLFor returns the cache TTL appropriate for a job's current status.
func TTLFor(status job.Status) time.Duration {
	if status.IsTerminal() {
		return TTLTerminal
	}
	return TTLNonTerminal
}

// Cache is a read-through cache of Job records.
type Cache struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New creates a Cache against the given Redis client.
func New(rdb *redis.Client, logger *slog.Logger) *Cache {
	return &Cache{rdb: rdb, logger: logger}
}

// Get returns the cached job, or nil if absent, expired, or Redis is
// unreachable. A cache miss is semantically identical to cache disabled.
func (c *Cache) Get(ctx context.Context, requestID string) *job.Job {
	raw, err := c.rdb.Get(ctx, cacheKey(requestID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache get failed, treating as miss",
				slog.String("request_id", requestID), slog.Any("error", err))
		}
		return nil
	}

	var j job.Job
	if err := json.Unmarshal(raw, &j); err != nil {
		c.logger.Warn("cache entry corrupt, treating as miss",
			slog.String("request_id", requestID), slog.Any("error", err))
		return nil
	}
	return &j
}

// Put writes j into the cache with the given TTL. Failures are logged and
// swallowed.
func (c *Cache) Put(ctx context.Context, j *job.Job, ttl time.Duration) {
	raw, err := json.Marshal(j)
	if err != nil {
		c.logger.Warn("cache put: marshal failed", slog.String("request_id", j.RequestID), slog.Any("error", err))
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(j.RequestID), raw, ttl).Err(); err != nil {
		c.logger.Warn("cache put failed", slog.String("request_id", j.RequestID), slog.Any("error", err))
	}
}

// Invalidate removes a cached entry. Failures are logged and swallowed.
func (c *Cache) Invalidate(ctx context.Context, requestID string) {
	if err := c.rdb.Del(ctx, cacheKey(requestID)).Err(); err != nil {
		c.logger.Warn("cache invalidate failed", slog.String("request_id", requestID), slog.Any("error", err))
	}
}

func cacheKey(requestID string) string {
	return fmt.Sprintf("%s%s", keyPrefix, requestID)
}
