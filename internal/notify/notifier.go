// Package notify tells operators about finalized wishes and failures. A
// Notifier fans each message out to every configured Sender and filters by
// event name.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

// Event names accepted in notify.events.
const (
	EventWishClaimed = "wish_claimed"
	EventWishSettled = "wish_settled"
	EventError       = "error"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs, e.g. "telegram".
	Name() string
}

// Notifier dispatches notifications to its senders. Only events in the
// allowed set are forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders, forwarding only events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends title and message when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// WishClaimed announces a successful claim.
func (n *Notifier) WishClaimed(ctx context.Context, w domain.Wish, amount int64) error {
	return n.Notify(ctx, EventWishClaimed,
		fmt.Sprintf("Wish #%d claimed", w.ID),
		fmt.Sprintf("%s claimed %d (target %d) for %q", w.Owner.Hex(), amount, w.Target, w.Description),
	)
}

// WishSettled announces a settlement and how many contributors were
// refunded.
func (n *Notifier) WishSettled(ctx context.Context, w domain.Wish, payouts []domain.Payout) error {
	var total int64
	for _, p := range payouts {
		total += p.Amount
	}
	return n.Notify(ctx, EventWishSettled,
		fmt.Sprintf("Wish #%d settled", w.ID),
		fmt.Sprintf("target %d missed; refunded %d to %d contributor(s)", w.Target, total, len(payouts)),
	)
}

// Error reports an unexpected failure of op.
func (n *Notifier) Error(ctx context.Context, op string, err error) error {
	return n.Notify(ctx, EventError, "wishledger error", fmt.Sprintf("%s: %v", op, err))
}

// dispatch sends to every sender. One failing sender does not stop the
// others; failures are joined.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
