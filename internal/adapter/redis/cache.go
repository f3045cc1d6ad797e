// Package redis implements the cache port on a shared Redis server, used as
// the L2 replay cache when several TicketForge replicas run side by side.
package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Strob0t/TicketForge/internal/config"
)

const keyPrefix = "ticketforge:"

// Cache wraps a go-redis client.
type Cache struct {
	client *goredis.Client
}

// New connects to Redis using the provided configuration. An unreachable
// server is logged but not fatal; calls fail until it comes back.
func New(ctx context.Context, cfg config.Redis) *Cache {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("unable to reach redis", "addr", cfg.Addr, "error", err)
	} else {
		slog.Info("connected to redis", "addr", cfg.Addr)
	}

	return &Cache{client: client}
}

// NewFromClient wraps an existing client.
func NewFromClient(client *goredis.Client) *Cache {
	return &Cache{client: client}
}

// Get retrieves a value from Redis.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set stores a value with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, keyPrefix+key, value, ttl).Err()
}

// Add stores value only when key is absent (SET NX).
func (c *Cache) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, keyPrefix+key, value, ttl).Result()
}

// Delete removes a value. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, keyPrefix+key).Err()
}

// Ping verifies Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *Cache) Close() error {
	return c.client.Close()
}
