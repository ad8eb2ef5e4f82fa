package local

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter implements domain.RateLimiter with one token bucket per key.
// A bucket refills limit tokens per window and bursts up to limit.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	lastPrune time.Time
	now       func() time.Time
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Allow reports whether one more request for key is permitted.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	ok, _ := rl.take(key, limit, window)
	return ok, nil
}

// RetryAfter is Allow that also reports, for a refused request, how long
// until the bucket holds a whole token again.
func (rl *RateLimiter) RetryAfter(_ context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	ok, wait := rl.take(key, limit, window)
	return ok, wait, nil
}

func (rl *RateLimiter) take(key string, limit int, window time.Duration) (bool, time.Duration) {
	if limit <= 0 || window <= 0 {
		return false, window
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.pruneLocked(now, window)

	// Buckets are per (key, limit, window) so callers with different
	// policies never share tokens.
	vk := key + "|" + strconv.Itoa(limit) + "|" + window.String()
	v, ok := rl.visitors[vk]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)}
		rl.visitors[vk] = v
	}
	v.lastSeen = now
	if v.limiter.AllowN(now, 1) {
		return true, 0
	}
	missing := 1 - v.limiter.TokensAt(now)
	return false, time.Duration(missing / float64(v.limiter.Limit()) * float64(time.Second))
}

// pruneLocked drops buckets idle for three windows. It runs at most once
// per window.
func (rl *RateLimiter) pruneLocked(now time.Time, window time.Duration) {
	if now.Sub(rl.lastPrune) < window {
		return
	}
	rl.lastPrune = now
	for k, v := range rl.visitors {
		if now.Sub(v.lastSeen) > 3*window {
			delete(rl.visitors, k)
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
