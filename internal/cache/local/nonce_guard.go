package local

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

// NonceGuard implements domain.NonceGuard with an expiring in-memory set.
type NonceGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewNonceGuard creates an empty NonceGuard.
func NewNonceGuard() *NonceGuard {
	return &NonceGuard{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Claim records nonce for ttl and reports whether it was unused.
func (g *NonceGuard) Claim(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for n, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, n)
		}
	}
	if _, ok := g.seen[nonce]; ok {
		return false, nil
	}
	g.seen[nonce] = now.Add(ttl)
	return true, nil
}

var _ domain.NonceGuard = (*NonceGuard)(nil)
