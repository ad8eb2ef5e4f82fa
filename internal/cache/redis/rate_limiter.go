package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

var slidingWindow = redis.NewScript(slidingWindowLua)

// RateLimiter implements domain.RateLimiter for API callers. Each key is a
// sorted set of request times trimmed to the window by one Lua call, so
// several daemons behind a load balancer share one budget per caller.
type RateLimiter struct {
	rdb *redis.Client
}

// NewRateLimiter creates a RateLimiter backed by c.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.Underlying()}
}

// window is the state of one key after a request was counted or refused.
type window struct {
	allowed bool
	count   int64
	wait    time.Duration
}

func (rl *RateLimiter) hit(ctx context.Context, key string, limit int, span time.Duration) (window, error) {
	res, err := slidingWindow.Run(ctx, rl.rdb,
		[]string{"wishledger:ratelimit:" + key},
		span.Microseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return window{}, err
	}
	if len(res) != 3 {
		return window{}, fmt.Errorf("sliding window returned %d values", len(res))
	}
	return window{
		allowed: res[0] == 1,
		count:   res[1],
		wait:    time.Duration(res[2]) * time.Microsecond,
	}, nil
}

// Allow counts a request for key and reports whether it fits within limit
// requests per span.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, span time.Duration) (bool, error) {
	if limit <= 0 || span <= 0 {
		return false, nil
	}
	w, err := rl.hit(ctx, key, limit, span)
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return w.allowed, nil
}

// RetryAfter counts a request like Allow and, when it is refused, also
// returns how long until the oldest request leaves the window.
func (rl *RateLimiter) RetryAfter(ctx context.Context, key string, limit int, span time.Duration) (bool, time.Duration, error) {
	if limit <= 0 || span <= 0 {
		return false, span, nil
	}
	w, err := rl.hit(ctx, key, limit, span)
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return w.allowed, w.wait, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
