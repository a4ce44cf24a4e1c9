package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store and Counter using go-redis/v9.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore from a Redis URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

var (
	_ Store   = (*RedisStore)(nil)
	_ Counter = (*RedisStore)(nil)
)

func (c *RedisStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStore) Close() error {
	return c.client.Close()
}

func (c *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisStore) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// IncrWithExpiry increments key and (re)arms its expiry in one transaction.
// The expiry is only set on the first increment so the window is fixed.
func (c *RedisStore) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
