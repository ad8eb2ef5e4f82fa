// Package memory provides in-process implementations of the ledger and audit
// stores. State lives only as long as the process.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

var errReadOnly = errors.New("memory: write in read-only transaction")

// LedgerStore implements domain.LedgerStore. Writers are serialized by a
// mutex; an Update stages its writes in an overlay that is applied only when
// the callback returns nil.
type LedgerStore struct {
	mu       sync.RWMutex
	lastID   uint64
	wishes   map[uint64]domain.Wish
	balances map[common.Address]int64
}

// NewLedgerStore creates an empty LedgerStore.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		wishes:   make(map[uint64]domain.Wish),
		balances: make(map[common.Address]int64),
	}
}

// Update runs fn with write access and commits its writes on success.
func (s *LedgerStore) Update(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &ledgerTx{
		store:    s,
		writable: true,
		lastID:   s.lastID,
		wishes:   make(map[uint64]domain.Wish),
		balances: make(map[common.Address]int64),
	}
	if err := fn(tx); err != nil {
		return err
	}
	// Cancelled before commit: nothing is applied.
	if err := ctx.Err(); err != nil {
		return err
	}

	s.lastID = tx.lastID
	for id, w := range tx.wishes {
		s.wishes[id] = w
	}
	for acct, bal := range tx.balances {
		s.balances[acct] = bal
	}
	return nil
}

// View runs fn with read-only access.
func (s *LedgerStore) View(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&ledgerTx{store: s, lastID: s.lastID})
}

type ledgerTx struct {
	store    *LedgerStore
	writable bool
	lastID   uint64
	wishes   map[uint64]domain.Wish
	balances map[common.Address]int64
}

func (tx *ledgerTx) NextWishID(_ context.Context) (uint64, error) {
	if !tx.writable {
		return 0, errReadOnly
	}
	tx.lastID++
	return tx.lastID, nil
}

func (tx *ledgerTx) GetWish(_ context.Context, id uint64) (domain.Wish, error) {
	if w, ok := tx.wishes[id]; ok {
		return w.Clone(), nil
	}
	w, ok := tx.store.wishes[id]
	if !ok {
		return domain.Wish{}, fmt.Errorf("memory: wish %d: %w", id, domain.ErrNotFound)
	}
	return w.Clone(), nil
}

func (tx *ledgerTx) PutWish(_ context.Context, w domain.Wish) error {
	if !tx.writable {
		return errReadOnly
	}
	if w.ID == 0 || w.ID > tx.lastID {
		return fmt.Errorf("memory: put wish: id %d was never allocated", w.ID)
	}
	tx.wishes[w.ID] = w.Clone()
	return nil
}

func (tx *ledgerTx) ListWishes(_ context.Context, filter domain.WishFilter) ([]domain.Wish, error) {
	merged := make(map[uint64]domain.Wish, len(tx.store.wishes)+len(tx.wishes))
	for id, w := range tx.store.wishes {
		merged[id] = w
	}
	for id, w := range tx.wishes {
		merged[id] = w
	}

	ids := make([]uint64, 0, len(merged))
	for id, w := range merged {
		if filter.Match(w) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	ids = domain.Page(ids, filter.ListOpts)
	out := make([]domain.Wish, 0, len(ids))
	for _, id := range ids {
		out = append(out, merged[id].Clone())
	}
	return out, nil
}

func (tx *ledgerTx) Balance(_ context.Context, account common.Address) (int64, error) {
	if bal, ok := tx.balances[account]; ok {
		return bal, nil
	}
	return tx.store.balances[account], nil
}

func (tx *ledgerTx) SetBalance(_ context.Context, account common.Address, balance int64) error {
	if !tx.writable {
		return errReadOnly
	}
	if balance < 0 {
		return fmt.Errorf("memory: negative balance %d for %s", balance, account.Hex())
	}
	tx.balances[account] = balance
	return nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
