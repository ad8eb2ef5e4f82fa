package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// Page applies opts to an already ordered slice. A zero Limit means no
// limit.
func Page[T any](items []T, opts ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return items[:0]
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// WishFilter narrows ListWishes. Zero values mean "no filter".
type WishFilter struct {
	Owner           *common.Address
	Status          WishStatus
	FinalizedBefore *time.Time
	ListOpts
}

// Match reports whether w passes every set filter field. Stores that cannot
// push a filter down to their query language use it in memory.
func (f WishFilter) Match(w Wish) bool {
	if f.Owner != nil && w.Owner != *f.Owner {
		return false
	}
	if f.Status != "" && w.Status != f.Status {
		return false
	}
	if f.FinalizedBefore != nil {
		if w.FinalizedAt == nil || !w.FinalizedAt.Before(*f.FinalizedBefore) {
			return false
		}
	}
	return true
}

// LedgerTx is the keyed view of ledger state available inside a store
// transaction. GetWish returns ErrNotFound for unknown ids.
type LedgerTx interface {
	NextWishID(ctx context.Context) (uint64, error)
	GetWish(ctx context.Context, id uint64) (Wish, error)
	PutWish(ctx context.Context, w Wish) error
	ListWishes(ctx context.Context, filter WishFilter) ([]Wish, error)
	Balance(ctx context.Context, account common.Address) (int64, error)
	SetBalance(ctx context.Context, account common.Address, balance int64) error
}

// LedgerStore runs functions against ledger state atomically. Update commits
// the writes made through tx only when fn returns nil; any error rolls every
// write back.
type LedgerStore interface {
	Update(ctx context.Context, fn func(tx LedgerTx) error) error
	View(ctx context.Context, fn func(tx LedgerTx) error) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
