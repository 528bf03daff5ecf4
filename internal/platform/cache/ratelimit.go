package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces a fixed-window per-key limit backed by Redis
// INCR + EXPIRE. Allow returns false once the count for the current
// window exceeds limit.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type RedisRateLimiter struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(rdb *redis.Client, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := r.prefix + ":" + key
	count, err := r.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr %s: %w", k, err)
	}
	if count == 1 {
		if err := r.rdb.Expire(ctx, k, r.window).Err(); err != nil {
			return false, fmt.Errorf("rate limit expire %s: %w", k, err)
		}
	}
	return count <= int64(r.limit), nil
}
