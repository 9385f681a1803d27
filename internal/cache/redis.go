// Package cache owns the service's Redis connection.
//
// The referral API uses Redis for two things: the token-bucket limiter that
// guards the public referral-code routes by client IP, and the shared client
// handed to the referral event publisher and the webhook relay, which both
// work on stream:referral_events. Redis is optional; without REDIS_URL none
// of this is constructed.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// clientName tags connections in CLIENT LIST.
const clientName = "referral-api"

// Cache wraps the Redis client shared by the rate limiter, the event
// publisher and the webhook relay.
type Cache struct {
	client *redis.Client
}

// New connects to redisURL and pings it before returning.
func New(ctx context.Context, redisURL string) (*Cache, error) {
	opt, err := clientOptions(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// clientOptions parses redisURL and applies pool sizing.
func clientOptions(redisURL string) (*redis.Options, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.ClientName = clientName
	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	return opt, nil
}

// Ping checks Redis connectivity for the readiness check.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the raw client for the stream publisher and relay.
func (c *Cache) Client() *redis.Client {
	return c.client
}
