package domain

import (
	"context"
	"time"
)

// WishCache provides fast read access to wishes.
type WishCache interface {
	Set(ctx context.Context, w Wish) error
	Get(ctx context.Context, id uint64) (Wish, error)
	Invalidate(ctx context.Context, id uint64) error
}

// RateLimiter provides rate limiting keyed by caller.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides mutual exclusion across ledger processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// NonceGuard records one-time nonces. Claim returns false when the nonce was
// already seen within ttl.
type NonceGuard interface {
	Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}
