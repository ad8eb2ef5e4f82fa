package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

// NonceGuard implements domain.NonceGuard with SET NX, so the first process
// to see a nonce wins across the whole deployment.
type NonceGuard struct {
	rdb *redis.Client
}

// NewNonceGuard creates a NonceGuard backed by the given Client.
func NewNonceGuard(c *Client) *NonceGuard {
	return &NonceGuard{rdb: c.Underlying()}
}

func nonceKey(nonce string) string {
	return "wishledger:nonce:" + nonce
}

// Claim records nonce for ttl. It returns false if the nonce is already
// recorded.
func (g *NonceGuard) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, nonceKey(nonce), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim nonce: %w", err)
	}
	return ok, nil
}

var _ domain.NonceGuard = (*NonceGuard)(nil)
