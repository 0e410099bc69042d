package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/richxcame/escrow-settlement/pkg/config"
)

// ErrCacheMiss is returned when a key does not exist
var ErrCacheMiss = errors.New("cache miss")

// Store is the key/value surface the cache, idempotency and token layers need
type Store interface {
	Read(ctx context.Context, key string) (string, error)
	Write(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Claim(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

var _ Store = (*Client)(nil)

// Client wraps go-redis. The embedded client is exposed for scripts such as the rate limiter.
type Client struct {
	*redis.Client
}

// NewRedisClient dials Redis and fails when it does not answer a ping within five seconds
func NewRedisClient(cfg *config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("unable to connect to redis at %s: %w", cfg.RedisAddr(), err)
	}

	return Wrap(rdb), nil
}

// Wrap adapts an existing go-redis client
func Wrap(rdb *redis.Client) *Client {
	return &Client{Client: rdb}
}

// Read returns the string at key, retrying transient failures. A missing key is ErrCacheMiss.
func (c *Client) Read(ctx context.Context, key string) (string, error) {
	return withRetry(ctx, "redis.get", func(ctx context.Context) (string, error) {
		val, err := c.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return val, err
	})
}

// Write stores value under key for ttl
func (c *Client) Write(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.Set(ctx, key, value, ttl).Err()
}

// Claim stores value only when key is free and reports whether this caller got it.
// It is never retried: a lost reply could hide a claim this caller already made.
func (c *Client) Claim(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return c.SetNX(ctx, key, value, ttl).Result()
}

// Delete removes keys, retrying transient failures
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	_, err := withRetry(ctx, "redis.del", func(ctx context.Context) (int64, error) {
		return c.Del(ctx, keys...).Result()
	})
	return err
}

// HealthCheck pings Redis for the readiness probes
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
