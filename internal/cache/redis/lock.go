package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

//go:embed scripts/release_lock.lua
var releaseLockLua string

var releaseLock = redis.NewScript(releaseLockLua)

// releaseTimeout bounds the unlock round trip, which runs on a background
// context so a cancelled request still frees its wish.
const releaseTimeout = 5 * time.Second

// LockManager implements domain.LockManager. A lock is a key holding a
// random token with a TTL, so a crashed holder frees it on expiry and a late
// unlock never removes a newer holder's key.
type LockManager struct {
	rdb *redis.Client
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.Underlying()}
}

func lockKey(key string) string {
	return "wishledger:lock:" + key
}

// Acquire tries once. It fails with domain.ErrLockHeld while another holder
// owns key. Calling the returned func more than once is harmless.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("redis: lock %s: ttl %s must be positive", key, ttl)
	}

	k, token := lockKey(key), uuid.NewString()
	err := lm.rdb.SetArgs(ctx, k, token, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	case err != nil:
		return nil, fmt.Errorf("redis: lock %s: %w", key, err)
	}

	var once sync.Once
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		_ = releaseLock.Run(ctx, lm.rdb, []string{k}, token).Err()
	}
	return func() { once.Do(release) }, nil
}

var _ domain.LockManager = (*LockManager)(nil)
