package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter allows or denies requests per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() int
}

type fixedWindowLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter returns a Redis-backed fixed-window rate limiter allowing
// limit events per window for each key.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) RateLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &fixedWindowLimiter{client: client, limit: limit, window: window, now: time.Now}
}

func (r *fixedWindowLimiter) Limit() int { return r.limit }

// Allow counts the request against the current window. The counter key is
// named after the window start so every window begins at zero.
func (r *fixedWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := r.now().UnixNano() / r.window.Nanoseconds()
	rkey := "ratelimit:" + key + ":" + strconv.FormatInt(bucket, 10)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, rkey)
	pipe.Expire(ctx, rkey, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limiter pipeline for %q: %w", key, err)
	}
	return incr.Val() <= int64(r.limit), nil
}
