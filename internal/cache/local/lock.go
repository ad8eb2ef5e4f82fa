// Package local provides single-process implementations of the lock, rate
// limit and nonce interfaces for deployments without Redis.
package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

type heldLock struct {
	token   uint64
	expires time.Time
}

// LockManager implements domain.LockManager with an in-memory table of
// expiring locks.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]heldLock
	next  uint64
	now   func() time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]heldLock),
		now:   time.Now,
	}
}

// Acquire makes a single attempt to take key. An expired lock counts as
// free.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("local: acquire lock %s: ttl must be positive", key)
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if held, ok := lm.locks[key]; ok && now.Before(held.expires) {
		return nil, fmt.Errorf("local: lock %s: %w", key, domain.ErrLockHeld)
	}
	lm.next++
	token := lm.next
	lm.locks[key] = heldLock{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if held, ok := lm.locks[key]; ok && held.token == token {
				delete(lm.locks, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
