package resultcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAdapter wraps a *redis.Client so it satisfies RedisClient, grounded
// on the pooled/timeout defaults used elsewhere for Redis access.
type RedisAdapter struct {
	rdb *redis.Client
}

// NewRedisAdapter dials addr with short, cache-appropriate timeouts and
// pings it once to fail fast on a bad address.
func NewRedisAdapter(ctx context.Context, addr string) (*RedisAdapter, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisAdapter{rdb: rdb}, nil
}

func (a *RedisAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := a.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return b, true, nil
}

func (a *RedisAdapter) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := a.rdb.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (a *RedisAdapter) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := a.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

func (a *RedisAdapter) Close() error {
	return a.rdb.Close()
}
