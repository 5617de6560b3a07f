// Package redis wraps a github.com/redis/go-redis/v9 connection the way
// shared/postgresql wraps a sqlx connection: a Config struct, a
// constructor that connects and verifies reachability, and logged
// lifecycle methods. Both the job queue and the status cache share one
// of these clients against distinct key namespaces.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Client wraps a *redis.Client with the connection lifecycle the rest of
// this codebase expects from a "shared" client.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewClient connects to Redis and verifies reachability with PING.
func NewClient(cfg *Config, logger *slog.Logger) (*Client, error) {
	logger.Info("connecting to Redis", slog.String("addr", cfg.Addr), slog.Int("db", cfg.DB))

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to ping Redis", slog.Any("error", err))
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	logger.Info("successfully connected to Redis")
	return &Client{rdb: rdb, logger: logger}, nil
}

// Raw returns the underlying *redis.Client for packages that need the full
// command surface (streams, scripts).
func (c *Client) Raw() *redis.Client {
	return c.rdb
}

// Close closes the connection pool.
func (c *Client) Close() error {
	c.logger.Info("closing Redis connection")
	if err := c.rdb.Close(); err != nil {
		c.logger.Error("failed to close Redis connection", slog.Any("error", err))
		return err
	}
	return nil
}

// HealthCheck pings Redis with a bounded timeout.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}
