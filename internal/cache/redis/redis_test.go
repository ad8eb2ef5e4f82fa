package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "wishledger:wish:42", wishKey(42))
	assert.Equal(t, "wishledger:lock:wish:7", lockKey("wish:7"))
	assert.Equal(t, "wishledger:ratelimit:1.2.3.4", rateLimitKey("1.2.3.4"))
	assert.Equal(t, "wishledger:nonce:abc", nonceKey("abc"))
}

func TestClientOptions(t *testing.T) {
	t.Run("plain address", func(t *testing.T) {
		opts, err := ClientConfig{Addr: "cache:6379", Password: "pw", DB: 2, PoolSize: 7, TLSEnabled: true}.options()
		require.NoError(t, err)
		assert.Equal(t, "cache:6379", opts.Addr)
		assert.Equal(t, "pw", opts.Password)
		assert.Equal(t, 2, opts.DB)
		assert.Equal(t, 7, opts.PoolSize)
		require.NotNil(t, opts.TLSConfig)
		assert.Equal(t, "wishledger", opts.ClientName)
	})

	t.Run("url wins over fields", func(t *testing.T) {
		opts, err := ClientConfig{Addr: "redis://:secret@cache:6380/3", Password: "ignored", DB: 1}.options()
		require.NoError(t, err)
		assert.Equal(t, "cache:6380", opts.Addr)
		assert.Equal(t, "secret", opts.Password)
		assert.Equal(t, 3, opts.DB)
		assert.Nil(t, opts.TLSConfig)
	})

	t.Run("url fills gaps from fields", func(t *testing.T) {
		opts, err := ClientConfig{Addr: "redis://cache:6379", Password: "pw", DB: 4}.options()
		require.NoError(t, err)
		assert.Equal(t, "pw", opts.Password)
		assert.Equal(t, 4, opts.DB)
	})

	t.Run("bad url", func(t *testing.T) {
		_, err := ClientConfig{Addr: "http://cache:6379"}.options()
		assert.Error(t, err)
	})
}

// newTestClient connects to WISHLEDGER_TEST_REDIS_ADDR or skips.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("WISHLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WISHLEDGER_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, DialTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLockManagerIntegration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)
	key := "test:" + uuid.NewString()

	unlock, err := lm.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, key, 5*time.Second)
	assert.True(t, errors.Is(err, domain.ErrLockHeld))

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	unlock2()
}

func TestRateLimiterIntegration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)
	key := "test:" + uuid.NewString()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWishCacheIntegration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	wc := NewWishCache(c, time.Minute)
	id := uint64(time.Now().UnixNano())

	_, err := wc.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	owner := common.HexToAddress("0x0a")
	require.NoError(t, wc.Set(ctx, domain.Wish{
		ID:           id,
		Owner:        owner,
		Target:       10,
		Contributors: map[common.Address]int64{owner: 3},
		Status:       domain.WishStatusOpen,
	}))
	w, err := wc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), w.Contributors[owner])

	require.NoError(t, wc.Invalidate(ctx, id))
	_, err = wc.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNonceGuardIntegration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	g := NewNonceGuard(c)
	nonce := uuid.NewString()

	ok, err := g.Claim(ctx, nonce, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = g.Claim(ctx, nonce, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
