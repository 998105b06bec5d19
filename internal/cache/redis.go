package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a TurnCache backed by a shared Redis instance, for deployments
// running more than one twincore replica. Redis handles both TTL and memory
// bounding (maxmemory-policy), so unlike Memory there is no local LRU index.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig configures the Redis cache connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration // entry lifetime (default 5m)
}

// NewRedis creates a Redis-backed TurnCache. The connection is not verified
// here; call Ping to check reachability at startup.
func NewRedis(cfg RedisConfig) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &Redis{client: client, ttl: cfg.TTL}
}

// NewRedisWithClient wraps an existing client. Used by tests with miniredis.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Redis{client: client, ttl: ttl}
}

// Ping verifies the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Get implements TurnCache.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return v, nil
}

// Set implements TurnCache.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete implements TurnCache.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
