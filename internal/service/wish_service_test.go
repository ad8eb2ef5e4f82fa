package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alanyoungcy/wishledger/internal/cache/local"
	"github.com/alanyoungcy/wishledger/internal/domain"
	"github.com/alanyoungcy/wishledger/internal/ledger"
	"github.com/alanyoungcy/wishledger/internal/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	t0    = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	alice = common.HexToAddress("0x000000000000000000000000000000000000000a")
	bob   = common.HexToAddress("0x000000000000000000000000000000000000000b")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mapCache struct {
	mu      sync.Mutex
	wishes  map[uint64]domain.Wish
	sets    int
	deletes int
}

func newMapCache() *mapCache { return &mapCache{wishes: map[uint64]domain.Wish{}} }

func (c *mapCache) Set(_ context.Context, w domain.Wish) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wishes[w.ID] = w.Clone()
	c.sets++
	return nil
}

func (c *mapCache) Get(_ context.Context, id uint64) (domain.Wish, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.wishes[id]
	if !ok {
		return domain.Wish{}, domain.ErrNotFound
	}
	return w.Clone(), nil
}

func (c *mapCache) Invalidate(_ context.Context, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.wishes, id)
	c.deletes++
	return nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	claimed []int64
	settled [][]domain.Payout
	errs    []string
}

func (n *recordingNotifier) WishClaimed(_ context.Context, _ domain.Wish, amount int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.claimed = append(n.claimed, amount)
	return nil
}

func (n *recordingNotifier) WishSettled(_ context.Context, _ domain.Wish, payouts []domain.Payout) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settled = append(n.settled, payouts)
	return nil
}

func (n *recordingNotifier) Error(_ context.Context, op string, _ error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, op)
	return errors.New("webhook down")
}

type fixture struct {
	svc      *WishService
	clock    *fakeClock
	cache    *mapCache
	audit    *memory.AuditStore
	notifier *recordingNotifier
	reg      *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:    &fakeClock{now: t0},
		cache:    newMapCache(),
		audit:    memory.NewAuditStore(),
		notifier: &recordingNotifier{},
		reg:      prometheus.NewRegistry(),
	}
	l := ledger.New(memory.NewLedgerStore(), f.clock)
	f.svc = NewWishService(l, Deps{
		Locks:    local.NewLockManager(),
		Cache:    f.cache,
		Audit:    f.audit,
		Notifier: f.notifier,
		Metrics:  NewMetrics(f.reg),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func (f *fixture) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := f.reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestWishServiceClaimFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, bob, 100)
	require.NoError(t, err)

	w, err := f.svc.CreateWish(ctx, alice, "new bike", 80, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.WishStatusOpen, w.Status)

	w, err = f.svc.FundWish(ctx, w.ID, bob, 80)
	require.NoError(t, err)
	assert.Equal(t, int64(80), w.Raised)

	_, err = f.svc.Claim(ctx, w.ID, alice)
	require.ErrorIs(t, err, domain.ErrTooEarly)

	f.clock.Advance(time.Hour)
	res, err := f.svc.Claim(ctx, w.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(80), res.Amount)
	assert.Equal(t, domain.WishStatusClaimed, res.Wish.Status)

	bal, err := f.svc.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(80), bal)

	assert.Equal(t, []int64{80}, f.notifier.claimed)

	entries, err := f.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	events := make([]string, 0, len(entries))
	for _, e := range entries {
		events = append(events, e.Event)
	}
	assert.Equal(t, []string{"wish_claimed", "wish_funded", "wish_created", "account_deposit"}, events)

	assert.Equal(t, 1.0, f.counter(t, "wishledger_ledger_operations_total", map[string]string{"op": "claim", "result": "ok"}))
	assert.Equal(t, 1.0, f.counter(t, "wishledger_ledger_operations_total", map[string]string{"op": "claim", "result": "too_early"}))
	assert.Equal(t, 80.0, f.counter(t, "wishledger_ledger_volume_total", map[string]string{"kind": "claimed"}))
}

func TestWishServiceSettleFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, bob, 30)
	require.NoError(t, err)
	w, err := f.svc.CreateWish(ctx, alice, "", 100, t0.Add(time.Minute))
	require.NoError(t, err)
	_, err = f.svc.FundWish(ctx, w.ID, bob, 30)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	res, err := f.svc.Settle(ctx, w.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, []domain.Payout{{Account: bob, Amount: 30}}, res.Payouts)
	assert.Equal(t, domain.WishStatusSettled, res.Wish.Status)
	require.Len(t, f.notifier.settled, 1)

	_, err = f.svc.Settle(ctx, w.ID, alice)
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)
	assert.Equal(t, 30.0, f.counter(t, "wishledger_ledger_volume_total", map[string]string{"kind": "refunded"}))
}

func TestWishServiceCachesOnlyFinalWishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.svc.CreateWish(ctx, alice, "", 10, t0.Add(time.Minute))
	require.NoError(t, err)

	_, err = f.svc.Wish(ctx, w.ID)
	require.NoError(t, err)
	assert.Zero(t, f.cache.sets, "open wishes are not cached")

	f.clock.Advance(time.Minute)
	_, err = f.svc.Settle(ctx, w.ID, bob)
	require.NoError(t, err)

	got, err := f.svc.Wish(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WishStatusSettled, got.Status)
	assert.Equal(t, 1, f.cache.sets)

	cached, err := f.cache.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, got.ID, cached.ID)

	_, err = f.svc.Wish(ctx, 99)
	require.ErrorIs(t, err, domain.ErrWishNotFound)
}

func TestWishServiceLedgerErrorsAreNotEscalated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.FundWish(ctx, 42, bob, 5)
	require.ErrorIs(t, err, domain.ErrWishNotFound)
	_, err = f.svc.Withdraw(ctx, bob, 5)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.Empty(t, f.notifier.errs)
	assert.Equal(t, 1.0, f.counter(t, "wishledger_ledger_operations_total", map[string]string{"op": "fund", "result": "wish_not_found"}))
}

type failingStore struct{ err error }

func (s failingStore) Update(context.Context, func(domain.LedgerTx) error) error { return s.err }
func (s failingStore) View(context.Context, func(domain.LedgerTx) error) error   { return s.err }

func TestWishServiceEscalatesInternalErrors(t *testing.T) {
	n := &recordingNotifier{}
	l := ledger.New(failingStore{err: errors.New("disk on fire")}, &fakeClock{now: t0})
	svc := NewWishService(l, Deps{Locks: local.NewLockManager(), Notifier: n},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := svc.Deposit(context.Background(), bob, 5)
	require.Error(t, err)
	assert.Equal(t, "internal", domain.ErrorCode(err))
	assert.Equal(t, []string{"deposit"}, n.errs)
}

type busyLocks struct{}

func (busyLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestWishServiceLockWaitHonoursContext(t *testing.T) {
	l := ledger.New(memory.NewLedgerStore(), &fakeClock{now: t0})
	svc := NewWishService(l, Deps{Locks: busyLocks{}}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := svc.FundWish(ctx, 1, bob, 5)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWishServiceConcurrentFunding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.svc.CreateWish(ctx, alice, "", 1_000, t0.Add(time.Hour))
	require.NoError(t, err)

	const funders = 20
	accounts := make([]common.Address, funders)
	for i := range accounts {
		accounts[i] = common.BigToAddress(big.NewInt(int64(0x100 + i)))
		_, err := f.svc.Deposit(ctx, accounts[i], 10)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, acct := range accounts {
		wg.Add(1)
		go func(a common.Address) {
			defer wg.Done()
			_, err := f.svc.FundWish(ctx, w.ID, a, 10)
			assert.NoError(t, err)
		}(acct)
	}
	wg.Wait()

	got, err := f.svc.Wish(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(funders*10), got.Raised)
	assert.Equal(t, got.Raised, got.ContributedTotal())
}
