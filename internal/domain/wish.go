package domain

import (
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// WishStatus tracks the lifecycle of a wish. Open is the only non-terminal
// state.
type WishStatus string

const (
	WishStatusOpen    WishStatus = "open"
	WishStatusClaimed WishStatus = "claimed"
	WishStatusSettled WishStatus = "settled"
)

// Valid reports whether s is a known status.
func (s WishStatus) Valid() bool {
	switch s {
	case WishStatusOpen, WishStatusClaimed, WishStatusSettled:
		return true
	}
	return false
}

// Final reports whether s is terminal.
func (s WishStatus) Final() bool {
	return s == WishStatusClaimed || s == WishStatusSettled
}

// Wish is a single funding goal. Amounts are in the smallest unit.
type Wish struct {
	ID           uint64                   `json:"id"`
	Owner        common.Address           `json:"owner"`
	Description  string                   `json:"description"`
	Target       int64                    `json:"target"`
	Raised       int64                    `json:"raised"`
	Deadline     time.Time                `json:"deadline"`
	Contributors map[common.Address]int64 `json:"contributors"`
	Status       WishStatus               `json:"status"`
	CreatedAt    time.Time                `json:"created_at"`
	FinalizedAt  *time.Time               `json:"finalized_at,omitempty"`
	FinalizedBy  *common.Address          `json:"finalized_by,omitempty"`
}

// Clone returns a deep copy of w so callers can mutate it without touching
// w's contributor map.
func (w Wish) Clone() Wish {
	out := w
	out.Contributors = make(map[common.Address]int64, len(w.Contributors))
	for k, v := range w.Contributors {
		out.Contributors[k] = v
	}
	if w.FinalizedAt != nil {
		t := *w.FinalizedAt
		out.FinalizedAt = &t
	}
	if w.FinalizedBy != nil {
		a := *w.FinalizedBy
		out.FinalizedBy = &a
	}
	return out
}

// ContributedTotal sums the contributor map. For a consistent wish it equals
// Raised.
func (w Wish) ContributedTotal() int64 {
	var total int64
	for _, v := range w.Contributors {
		total += v
	}
	return total
}

// Contribution is one contributor entry in deterministic order.
type Contribution struct {
	Account common.Address `json:"account"`
	Amount  int64          `json:"amount"`
}

// Contributions returns the contributor map sorted by address.
func (w Wish) Contributions() []Contribution {
	out := make([]Contribution, 0, len(w.Contributors))
	for acct, amt := range w.Contributors {
		out = append(out, Contribution{Account: acct, Amount: amt})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Account.Cmp(out[j].Account) < 0
	})
	return out
}

// Payout is a credit produced when a wish is finalized.
type Payout struct {
	Account common.Address `json:"account"`
	Amount  int64          `json:"amount"`
}
