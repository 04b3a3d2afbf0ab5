package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	dedupPrefix = "notify:dedup:"
	quotaPrefix = "notify:quota:"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks connectivity
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Claim takes a dedup key for ttl. It returns false if someone already holds it.
func (c *Client) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, dedupPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim dedup key: %w", err)
	}
	return ok, nil
}

// Release gives a dedup key back so a later attempt can deliver
func (c *Client) Release(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, dedupPrefix+key).Err()
}

// IncrWindow bumps a counter that resets window after its first increment and returns the
// new count.
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := quotaPrefix + key

	n, err := c.rdb.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("incr quota: %w", err)
	}
	if n == 1 {
		if err := c.rdb.Expire(ctx, k, window).Err(); err != nil {
			return n, fmt.Errorf("expire quota: %w", err)
		}
	}
	return n, nil
}
