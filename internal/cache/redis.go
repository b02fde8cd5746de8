package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jobtracker-backend/internal/shared/telemetry"
)

const redisOpTimeout = 2 * time.Second

// RedisBackend stores entries in Redis. Every failure is logged and degrades
// to a miss or a no-op.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend parses url, connects, and verifies the server with PING.
func NewRedisBackend(ctx context.Context, url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 || opts.DialTimeout > 5*time.Second {
		opts.DialTimeout = 5 * time.Second
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBackend{client: client}, nil
}

// NewRedisBackendFromClient wraps an existing client without pinging it.
func NewRedisBackendFromClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool) {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	val, err := r.client.Get(opCtx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			telemetry.Warn("cache.redis.get_failed", map[string]any{"key": key, "error": err})
		}
		return nil, false
	}
	return val, true
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(opCtx, key, value, ttl).Err(); err != nil {
		telemetry.Warn("cache.redis.set_failed", map[string]any{"key": key, "error": err})
	}
}

func (r *RedisBackend) Delete(ctx context.Context, key string) {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := r.client.Del(opCtx, key).Err(); err != nil {
		telemetry.Warn("cache.redis.delete_failed", map[string]any{"key": key, "error": err})
	}
}

// Close releases the underlying connection pool.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

var _ Backend = (*RedisBackend)(nil)
