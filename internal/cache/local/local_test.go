package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

type manualClock struct{ t time.Time }

func (c *manualClock) Now() time.Time          { return c.t }
func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{t: time.Unix(1000, 0)}
	lm := NewLockManager()
	lm.now = clock.Now

	unlock, err := lm.Acquire(ctx, "wish:1", time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "wish:1", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	other, err := lm.Acquire(ctx, "wish:2", time.Second)
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := lm.Acquire(ctx, "wish:1", time.Second)
	require.NoError(t, err)

	// An expired lock can be taken over, and the stale unlock must not
	// release the new holder.
	clock.Advance(2 * time.Second)
	takeover, err := lm.Acquire(ctx, "wish:1", time.Second)
	require.NoError(t, err)
	again()
	_, err = lm.Acquire(ctx, "wish:1", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	takeover()

	_, err = lm.Acquire(ctx, "wish:3", 0)
	assert.Error(t, err)
}

func TestLockManagerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLockManager().Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{t: time.Unix(1000, 0)}
	rl := NewRateLimiter()
	rl.now = clock.Now

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "5.6.7.8", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "other keys have their own bucket")

	clock.Advance(20 * time.Second)
	ok, err = rl.Allow(ctx, "1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "one token refills every window/limit")

	ok, err = rl.Allow(ctx, "x", 0, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRateLimiterRetryAfter(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{t: time.Unix(1000, 0)}
	rl := NewRateLimiter()
	rl.now = clock.Now

	for i := 0; i < 3; i++ {
		ok, wait, err := rl.RetryAfter(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Zero(t, wait)
	}
	ok, wait, err := rl.RetryAfter(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.InDelta(t, float64(20*time.Second), float64(wait), float64(time.Millisecond))

	clock.Advance(5 * time.Second)
	_, wait, _ = rl.RetryAfter(ctx, "k", 3, time.Minute)
	assert.InDelta(t, float64(15*time.Second), float64(wait), float64(time.Millisecond))
}

func TestRateLimiterPrunesIdleKeys(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{t: time.Unix(1000, 0)}
	rl := NewRateLimiter()
	rl.now = clock.Now

	_, _ = rl.Allow(ctx, "a", 1, time.Second)
	clock.Advance(10 * time.Second)
	_, _ = rl.Allow(ctx, "b", 1, time.Second)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.visitors, 1)
}

func TestNonceGuard(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{t: time.Unix(1000, 0)}
	g := NewNonceGuard()
	g.now = clock.Now

	ok, err := g.Claim(ctx, "n1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Claim(ctx, "n1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(time.Minute)
	ok, err = g.Claim(ctx, "n1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired nonces are forgotten")
}
