// Package ledger implements the wish state machine. Every operation runs in a
// single domain.LedgerStore transaction, so a failed call never leaves a
// partial write behind.
//
// State machine:
//
//	open --claim (owner, deadline passed, raised >= target)--> claimed
//	open --settle (deadline passed, raised < target)---------> settled
//
// Claimed and settled are terminal.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

// DefaultMaxDescriptionLen bounds wish descriptions when no option is given.
const DefaultMaxDescriptionLen = 512

// Ledger owns every wish record through the store it was built with.
type Ledger struct {
	store             domain.LedgerStore
	clock             domain.Clock
	maxDescriptionLen int
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithMaxDescriptionLen overrides the description length limit.
func WithMaxDescriptionLen(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxDescriptionLen = n
		}
	}
}

// New creates a Ledger over store. A nil clock falls back to the system clock.
func New(store domain.LedgerStore, clock domain.Clock, opts ...Option) *Ledger {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	l := &Ledger{
		store:             store,
		clock:             clock,
		maxDescriptionLen: DefaultMaxDescriptionLen,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateWish allocates a new open wish owned by owner and returns its id.
func (l *Ledger) CreateWish(ctx context.Context, owner common.Address, description string, target int64, deadline time.Time) (uint64, error) {
	now := l.clock.Now()

	switch {
	case owner == (common.Address{}):
		return 0, fmt.Errorf("ledger: create wish: owner is the zero address: %w", domain.ErrInvalidParameters)
	case target <= 0:
		return 0, fmt.Errorf("ledger: create wish: target %d must be positive: %w", target, domain.ErrInvalidParameters)
	case !deadline.After(now):
		return 0, fmt.Errorf("ledger: create wish: deadline %s is not in the future: %w",
			deadline.UTC().Format(time.RFC3339), domain.ErrInvalidParameters)
	case len(description) > l.maxDescriptionLen:
		return 0, fmt.Errorf("ledger: create wish: description exceeds %d bytes: %w",
			l.maxDescriptionLen, domain.ErrInvalidParameters)
	}

	var id uint64
	err := l.store.Update(ctx, func(tx domain.LedgerTx) error {
		next, err := tx.NextWishID(ctx)
		if err != nil {
			return err
		}
		w := domain.Wish{
			ID:           next,
			Owner:        owner,
			Description:  description,
			Target:       target,
			Deadline:     deadline.UTC(),
			Contributors: map[common.Address]int64{},
			Status:       domain.WishStatusOpen,
			CreatedAt:    now,
		}
		if err := tx.PutWish(ctx, w); err != nil {
			return err
		}
		id = next
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: create wish: %w", err)
	}
	return id, nil
}

// FundWish moves amount from funder's balance into the wish's custody and
// returns the updated wish.
//
// Checks run in order: the wish exists, it is open with its deadline ahead,
// then the amount. A closed wish therefore reports ErrWishClosed whatever
// the amount.
func (l *Ledger) FundWish(ctx context.Context, id uint64, funder common.Address, amount int64) (domain.Wish, error) {
	now := l.clock.Now()

	var funded domain.Wish
	err := l.store.Update(ctx, func(tx domain.LedgerTx) error {
		w, err := loadWish(ctx, tx, id)
		if err != nil {
			return err
		}
		if w.Status != domain.WishStatusOpen {
			return fmt.Errorf("status %s: %w", w.Status, domain.ErrWishClosed)
		}
		if !now.Before(w.Deadline) {
			return fmt.Errorf("deadline %s passed: %w", w.Deadline.Format(time.RFC3339), domain.ErrWishClosed)
		}
		if amount <= 0 {
			return fmt.Errorf("amount %d: %w", amount, domain.ErrInvalidAmount)
		}
		if w.Raised > math.MaxInt64-amount {
			return fmt.Errorf("raised would overflow: %w", domain.ErrInvalidAmount)
		}

		bal, err := tx.Balance(ctx, funder)
		if err != nil {
			return err
		}
		if bal < amount {
			return fmt.Errorf("balance %d < %d: %w", bal, amount, domain.ErrInsufficientFunds)
		}
		if err := tx.SetBalance(ctx, funder, bal-amount); err != nil {
			return err
		}

		if w.Contributors == nil {
			w.Contributors = map[common.Address]int64{}
		}
		w.Raised += amount
		w.Contributors[funder] += amount
		if err := tx.PutWish(ctx, w); err != nil {
			return err
		}
		funded = w
		return nil
	})
	if err != nil {
		return domain.Wish{}, fmt.Errorf("ledger: fund wish %d: %w", id, err)
	}
	return funded, nil
}

// Claim pays the whole raised amount to the owner once the deadline has
// passed with the target met.
func (l *Ledger) Claim(ctx context.Context, id uint64, caller common.Address) (int64, error) {
	now := l.clock.Now()

	var paid int64
	err := l.store.Update(ctx, func(tx domain.LedgerTx) error {
		w, err := loadWish(ctx, tx, id)
		if err != nil {
			return err
		}
		if caller != w.Owner {
			return fmt.Errorf("caller %s is not the owner: %w", caller.Hex(), domain.ErrUnauthorized)
		}
		if w.Status != domain.WishStatusOpen {
			return fmt.Errorf("status %s: %w", w.Status, domain.ErrAlreadyFinalized)
		}
		if now.Before(w.Deadline) {
			return fmt.Errorf("deadline %s: %w", w.Deadline.Format(time.RFC3339), domain.ErrTooEarly)
		}
		// raised and target are read once, from the locked record.
		if w.Raised < w.Target {
			return fmt.Errorf("raised %d < target %d: %w", w.Raised, w.Target, domain.ErrTargetNotMet)
		}

		if err := credit(ctx, tx, w.Owner, w.Raised); err != nil {
			return err
		}
		finalize(&w, domain.WishStatusClaimed, caller, now)
		if err := tx.PutWish(ctx, w); err != nil {
			return err
		}
		paid = w.Raised
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: claim wish %d: %w", id, err)
	}
	return paid, nil
}

// Settle refunds every contributor their own contribution once the deadline
// has passed without the target being met. Anyone may call it.
func (l *Ledger) Settle(ctx context.Context, id uint64, caller common.Address) ([]domain.Payout, error) {
	now := l.clock.Now()

	var payouts []domain.Payout
	err := l.store.Update(ctx, func(tx domain.LedgerTx) error {
		w, err := loadWish(ctx, tx, id)
		if err != nil {
			return err
		}
		if w.Status != domain.WishStatusOpen {
			return fmt.Errorf("status %s: %w", w.Status, domain.ErrAlreadyFinalized)
		}
		if now.Before(w.Deadline) {
			return fmt.Errorf("deadline %s: %w", w.Deadline.Format(time.RFC3339), domain.ErrTooEarly)
		}
		if w.Raised >= w.Target {
			return fmt.Errorf("raised %d >= target %d: %w", w.Raised, w.Target, domain.ErrTargetMet)
		}

		out := make([]domain.Payout, 0, len(w.Contributors))
		for _, c := range w.Contributions() {
			if c.Amount <= 0 {
				continue
			}
			if err := credit(ctx, tx, c.Account, c.Amount); err != nil {
				return err
			}
			out = append(out, domain.Payout{Account: c.Account, Amount: c.Amount})
		}
		finalize(&w, domain.WishStatusSettled, caller, now)
		if err := tx.PutWish(ctx, w); err != nil {
			return err
		}
		payouts = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: settle wish %d: %w", id, err)
	}
	return payouts, nil
}

// Wish returns a single wish.
func (l *Ledger) Wish(ctx context.Context, id uint64) (domain.Wish, error) {
	var w domain.Wish
	err := l.store.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		w, err = loadWish(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.Wish{}, fmt.Errorf("ledger: get wish %d: %w", id, err)
	}
	return w, nil
}

// ListWishes returns wishes matching filter ordered by id.
func (l *Ledger) ListWishes(ctx context.Context, filter domain.WishFilter) ([]domain.Wish, error) {
	var out []domain.Wish
	err := l.store.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		out, err = tx.ListWishes(ctx, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: list wishes: %w", err)
	}
	return out, nil
}

// Balance returns the spendable balance of account.
func (l *Ledger) Balance(ctx context.Context, account common.Address) (int64, error) {
	var bal int64
	err := l.store.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		bal, err = tx.Balance(ctx, account)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: balance %s: %w", account.Hex(), err)
	}
	return bal, nil
}

// Deposit credits account with amount and returns the new balance.
func (l *Ledger) Deposit(ctx context.Context, account common.Address, amount int64) (int64, error) {
	if account == (common.Address{}) {
		return 0, fmt.Errorf("ledger: deposit: zero address: %w", domain.ErrInvalidParameters)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("ledger: deposit: amount %d: %w", amount, domain.ErrInvalidAmount)
	}

	var bal int64
	err := l.store.Update(ctx, func(tx domain.LedgerTx) error {
		cur, err := tx.Balance(ctx, account)
		if err != nil {
			return err
		}
		if cur > math.MaxInt64-amount {
			return fmt.Errorf("balance %d + %d overflows: %w", cur, amount, domain.ErrInvalidAmount)
		}
		bal = cur + amount
		return tx.SetBalance(ctx, account, bal)
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: deposit %s: %w", account.Hex(), err)
	}
	return bal, nil
}

// Withdraw debits amount from account and returns the new balance.
func (l *Ledger) Withdraw(ctx context.Context, account common.Address, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("ledger: withdraw: amount %d: %w", amount, domain.ErrInvalidAmount)
	}

	var bal int64
	err := l.store.Update(ctx, func(tx domain.LedgerTx) error {
		cur, err := tx.Balance(ctx, account)
		if err != nil {
			return err
		}
		if cur < amount {
			return fmt.Errorf("balance %d < %d: %w", cur, amount, domain.ErrInsufficientFunds)
		}
		bal = cur - amount
		return tx.SetBalance(ctx, account, bal)
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: withdraw %s: %w", account.Hex(), err)
	}
	return bal, nil
}

func loadWish(ctx context.Context, tx domain.LedgerTx, id uint64) (domain.Wish, error) {
	w, err := tx.GetWish(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Wish{}, fmt.Errorf("id %d: %w", id, domain.ErrWishNotFound)
		}
		return domain.Wish{}, err
	}
	return w, nil
}

// credit pays out of custody. An overflowing recipient fails with
// ErrBalanceOverflow, which rolls back the whole finalization.
func credit(ctx context.Context, tx domain.LedgerTx, account common.Address, amount int64) error {
	bal, err := tx.Balance(ctx, account)
	if err != nil {
		return err
	}
	if bal > math.MaxInt64-amount {
		return fmt.Errorf("paying %d to %s: %w", amount, account.Hex(), domain.ErrBalanceOverflow)
	}
	return tx.SetBalance(ctx, account, bal+amount)
}

func finalize(w *domain.Wish, status domain.WishStatus, by common.Address, at time.Time) {
	w.Status = status
	t := at
	w.FinalizedAt = &t
	b := by
	w.FinalizedBy = &b
}
