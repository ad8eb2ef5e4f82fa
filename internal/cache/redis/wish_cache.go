package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

// DefaultWishTTL is used when NewWishCache gets a non-positive ttl.
const DefaultWishTTL = 5 * time.Minute

// WishCache implements domain.WishCache.
//
// Key schema:
//
//	wishledger:wish:{id} - hash with field "data" containing the wish JSON
type WishCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewWishCache creates a WishCache backed by the given Client.
func NewWishCache(c *Client, ttl time.Duration) *WishCache {
	if ttl <= 0 {
		ttl = DefaultWishTTL
	}
	return &WishCache{rdb: c.Underlying(), ttl: ttl}
}

func wishKey(id uint64) string {
	return "wishledger:wish:" + strconv.FormatUint(id, 10)
}

// Set stores w with the cache TTL.
func (wc *WishCache) Set(ctx context.Context, w domain.Wish) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("redis: marshal wish %d: %w", w.ID, err)
	}

	key := wishKey(w.ID)
	pipe := wc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, wc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set wish %d: %w", w.ID, err)
	}
	return nil
}

// Get returns the cached wish or domain.ErrNotFound on a miss.
func (wc *WishCache) Get(ctx context.Context, id uint64) (domain.Wish, error) {
	data, err := wc.rdb.HGet(ctx, wishKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Wish{}, domain.ErrNotFound
		}
		return domain.Wish{}, fmt.Errorf("redis: get wish %d: %w", id, err)
	}

	var w domain.Wish
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.Wish{}, fmt.Errorf("redis: unmarshal wish %d: %w", id, err)
	}
	return w, nil
}

// Invalidate drops the cached copy of a wish.
func (wc *WishCache) Invalidate(ctx context.Context, id uint64) error {
	if err := wc.rdb.Del(ctx, wishKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate wish %d: %w", id, err)
	}
	return nil
}

var _ domain.WishCache = (*WishCache)(nil)
