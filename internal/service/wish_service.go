// Package service orchestrates ledger calls with the infrastructure around
// them: per-wish locks, the read cache, the audit log, operator
// notifications and metrics.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wishledger/internal/domain"
	"github.com/alanyoungcy/wishledger/internal/ledger"
)

const (
	defaultLockTTL = 10 * time.Second

	lockBackoffMin = 10 * time.Millisecond
	lockBackoffMax = 250 * time.Millisecond
)

// Notifier is the subset of notify.Notifier the service calls.
type Notifier interface {
	WishClaimed(ctx context.Context, w domain.Wish, amount int64) error
	WishSettled(ctx context.Context, w domain.Wish, payouts []domain.Payout) error
	Error(ctx context.Context, op string, err error) error
}

// Deps bundles the optional collaborators of a WishService. Locks is
// required; every other field may be nil.
type Deps struct {
	Locks    domain.LockManager
	Cache    domain.WishCache
	Audit    domain.AuditStore
	Notifier Notifier
	Metrics  *Metrics
	LockTTL  time.Duration
}

// ClaimResult is returned by Claim.
type ClaimResult struct {
	Wish   domain.Wish `json:"wish"`
	Amount int64       `json:"amount"`
}

// SettleResult is returned by Settle.
type SettleResult struct {
	Wish    domain.Wish     `json:"wish"`
	Payouts []domain.Payout `json:"payouts"`
}

// WishService is the entry point the HTTP layer and run modes use.
type WishService struct {
	ledger   *ledger.Ledger
	locks    domain.LockManager
	cache    domain.WishCache
	audit    domain.AuditStore
	notifier Notifier
	metrics  *Metrics
	lockTTL  time.Duration
	logger   *slog.Logger
}

// NewWishService creates a WishService around l.
func NewWishService(l *ledger.Ledger, deps Deps, logger *slog.Logger) *WishService {
	ttl := deps.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &WishService{
		ledger:   l,
		locks:    deps.Locks,
		cache:    deps.Cache,
		audit:    deps.Audit,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		lockTTL:  ttl,
		logger:   logger.With(slog.String("component", "wish_service")),
	}
}

// CreateWish creates a wish and returns it.
func (s *WishService) CreateWish(ctx context.Context, owner common.Address, description string, target int64, deadline time.Time) (w domain.Wish, err error) {
	defer s.metrics.observe("create", time.Now(), &err)

	id, err := s.ledger.CreateWish(ctx, owner, description, target, deadline)
	if err != nil {
		return domain.Wish{}, s.fail(ctx, "create", err)
	}
	w, err = s.ledger.Wish(ctx, id)
	if err != nil {
		return domain.Wish{}, s.fail(ctx, "create", err)
	}

	s.auditLog(ctx, "wish_created", map[string]any{
		"wish_id":  id,
		"owner":    owner.Hex(),
		"target":   target,
		"deadline": w.Deadline.Format(time.RFC3339),
	})
	s.logger.InfoContext(ctx, "wish created",
		slog.Uint64("wish_id", id),
		slog.String("owner", owner.Hex()),
		slog.Int64("target", target),
		slog.Time("deadline", w.Deadline),
	)
	return w, nil
}

// FundWish adds amount from funder to the wish.
func (s *WishService) FundWish(ctx context.Context, id uint64, funder common.Address, amount int64) (w domain.Wish, err error) {
	defer s.metrics.observe("fund", time.Now(), &err)

	err = s.withWishLock(ctx, id, func() error {
		var ferr error
		w, ferr = s.ledger.FundWish(ctx, id, funder, amount)
		return ferr
	})
	if err != nil {
		return domain.Wish{}, s.fail(ctx, "fund", err)
	}
	s.invalidate(ctx, id)
	s.metrics.addVolume("funded", amount)

	s.auditLog(ctx, "wish_funded", map[string]any{
		"wish_id": id,
		"funder":  funder.Hex(),
		"amount":  amount,
		"raised":  w.Raised,
	})
	s.logger.InfoContext(ctx, "wish funded",
		slog.Uint64("wish_id", id),
		slog.String("funder", funder.Hex()),
		slog.Int64("amount", amount),
		slog.Int64("raised", w.Raised),
	)
	return w, nil
}

// Claim pays the raised amount to the owner.
func (s *WishService) Claim(ctx context.Context, id uint64, caller common.Address) (res ClaimResult, err error) {
	defer s.metrics.observe("claim", time.Now(), &err)

	err = s.withWishLock(ctx, id, func() error {
		amount, cerr := s.ledger.Claim(ctx, id, caller)
		if cerr != nil {
			return cerr
		}
		res.Amount = amount
		res.Wish, cerr = s.ledger.Wish(ctx, id)
		return cerr
	})
	if err != nil {
		return ClaimResult{}, s.fail(ctx, "claim", err)
	}
	s.invalidate(ctx, id)
	s.metrics.addVolume("claimed", res.Amount)

	s.auditLog(ctx, "wish_claimed", map[string]any{
		"wish_id": id,
		"owner":   caller.Hex(),
		"amount":  res.Amount,
	})
	s.logger.InfoContext(ctx, "wish claimed",
		slog.Uint64("wish_id", id),
		slog.String("owner", caller.Hex()),
		slog.Int64("amount", res.Amount),
	)
	if s.notifier != nil {
		if nerr := s.notifier.WishClaimed(ctx, res.Wish, res.Amount); nerr != nil {
			s.logger.WarnContext(ctx, "claim notification failed", slog.String("error", nerr.Error()))
		}
	}
	return res, nil
}

// Settle refunds contributors of a wish that missed its target.
func (s *WishService) Settle(ctx context.Context, id uint64, caller common.Address) (res SettleResult, err error) {
	defer s.metrics.observe("settle", time.Now(), &err)

	err = s.withWishLock(ctx, id, func() error {
		payouts, serr := s.ledger.Settle(ctx, id, caller)
		if serr != nil {
			return serr
		}
		res.Payouts = payouts
		res.Wish, serr = s.ledger.Wish(ctx, id)
		return serr
	})
	if err != nil {
		return SettleResult{}, s.fail(ctx, "settle", err)
	}
	s.invalidate(ctx, id)

	var refunded int64
	for _, p := range res.Payouts {
		refunded += p.Amount
	}
	s.metrics.addVolume("refunded", refunded)

	s.auditLog(ctx, "wish_settled", map[string]any{
		"wish_id":      id,
		"caller":       caller.Hex(),
		"refunded":     refunded,
		"contributors": len(res.Payouts),
	})
	s.logger.InfoContext(ctx, "wish settled",
		slog.Uint64("wish_id", id),
		slog.String("caller", caller.Hex()),
		slog.Int64("refunded", refunded),
		slog.Int("contributors", len(res.Payouts)),
	)
	if s.notifier != nil {
		if nerr := s.notifier.WishSettled(ctx, res.Wish, res.Payouts); nerr != nil {
			s.logger.WarnContext(ctx, "settle notification failed", slog.String("error", nerr.Error()))
		}
	}
	return res, nil
}

// Wish returns a wish, consulting the cache first. Only finalized wishes are
// cached: they never change again, so a cached copy cannot go stale.
func (s *WishService) Wish(ctx context.Context, id uint64) (domain.Wish, error) {
	if s.cache != nil {
		w, err := s.cache.Get(ctx, id)
		if err == nil {
			return w, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "wish cache read failed",
				slog.Uint64("wish_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	w, err := s.ledger.Wish(ctx, id)
	if err != nil {
		return domain.Wish{}, err
	}
	if s.cache != nil && w.Status.Final() {
		if err := s.cache.Set(ctx, w); err != nil {
			s.logger.WarnContext(ctx, "wish cache write failed",
				slog.Uint64("wish_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return w, nil
}

// ListWishes returns wishes matching filter.
func (s *WishService) ListWishes(ctx context.Context, filter domain.WishFilter) ([]domain.Wish, error) {
	return s.ledger.ListWishes(ctx, filter)
}

// Balance returns an account's spendable balance.
func (s *WishService) Balance(ctx context.Context, account common.Address) (int64, error) {
	return s.ledger.Balance(ctx, account)
}

// Deposit credits an account. It is an operator action.
func (s *WishService) Deposit(ctx context.Context, account common.Address, amount int64) (bal int64, err error) {
	defer s.metrics.observe("deposit", time.Now(), &err)

	bal, err = s.ledger.Deposit(ctx, account, amount)
	if err != nil {
		return 0, s.fail(ctx, "deposit", err)
	}
	s.metrics.addVolume("deposited", amount)
	s.auditLog(ctx, "account_deposit", map[string]any{
		"account": account.Hex(),
		"amount":  amount,
		"balance": bal,
	})
	s.logger.InfoContext(ctx, "deposit",
		slog.String("account", account.Hex()),
		slog.Int64("amount", amount),
	)
	return bal, nil
}

// Withdraw debits an account.
func (s *WishService) Withdraw(ctx context.Context, account common.Address, amount int64) (bal int64, err error) {
	defer s.metrics.observe("withdraw", time.Now(), &err)

	bal, err = s.ledger.Withdraw(ctx, account, amount)
	if err != nil {
		return 0, s.fail(ctx, "withdraw", err)
	}
	s.metrics.addVolume("withdrawn", amount)
	s.auditLog(ctx, "account_withdraw", map[string]any{
		"account": account.Hex(),
		"amount":  amount,
		"balance": bal,
	})
	s.logger.InfoContext(ctx, "withdraw",
		slog.String("account", account.Hex()),
		slog.Int64("amount", amount),
	)
	return bal, nil
}

// withWishLock runs fn while holding the distributed lock for wish id,
// retrying with capped exponential backoff until ctx is done.
func (s *WishService) withWishLock(ctx context.Context, id uint64, fn func() error) error {
	key := fmt.Sprintf("wish:%d", id)
	backoff := lockBackoffMin
	for {
		unlock, err := s.locks.Acquire(ctx, key, s.lockTTL)
		if err == nil {
			defer unlock()
			return fn()
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("service: lock %s: %w", key, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("service: waiting for lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
		if backoff > lockBackoffMax {
			backoff = lockBackoffMax
		}
	}
}

// fail reports errors outside the ledger taxonomy to the operator and returns
// err unchanged.
func (s *WishService) fail(ctx context.Context, op string, err error) error {
	if domain.ErrorCode(err) != "internal" || errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.ErrorContext(ctx, "ledger operation failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	if s.notifier != nil {
		if nerr := s.notifier.Error(ctx, op, err); nerr != nil {
			s.logger.WarnContext(ctx, "error notification failed", slog.String("error", nerr.Error()))
		}
	}
	return err
}

func (s *WishService) invalidate(ctx context.Context, id uint64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "wish cache invalidate failed",
			slog.Uint64("wish_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *WishService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
