package draft

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV stores one attempt's drafts in a single Redis hash.
type RedisKV struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedisKV creates a RedisKV over hash key. A positive ttl is refreshed on
// every write so abandoned attempts eventually expire.
func NewRedisKV(rdb *redis.Client, key string, ttl time.Duration) *RedisKV {
	return &RedisKV{rdb: rdb, key: key, ttl: ttl}
}

// Get implements KV.
func (r *RedisKV) Get(ctx context.Context, field string) (string, bool, error) {
	v, err := r.rdb.HGet(ctx, r.key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("hget %s: %w", field, err)
	}
	return v, true, nil
}

// Set implements KV.
func (r *RedisKV) Set(ctx context.Context, field, value string) error {
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.key, field, value)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hset %s: %w", field, err)
	}
	return nil
}

// RemoveAll implements KV.
func (r *RedisKV) RemoveAll(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", r.key, err)
	}
	return nil
}
