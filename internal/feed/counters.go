package feed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"

	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/cache"
	"github.com/feedmill/feedmill/internal/db"
	"github.com/feedmill/feedmill/pkg/logging"
)

// CounterKind identifies a denormalized per-item counter. Each kind
// carries its own column and cache key, so call sites resolve the
// target once instead of branching on runtime type names.
type CounterKind int

const (
	CounterLikes CounterKind = iota
	CounterComments
)

// String returns the kind's stable name, used in cache keys
func (k CounterKind) String() string {
	switch k {
	case CounterLikes:
		return "likes"
	case CounterComments:
		return "comments"
	default:
		return "unknown"
	}
}

// Column returns the item table column holding the authoritative count
func (k CounterKind) Column() string {
	switch k {
	case CounterLikes:
		return "like_count"
	case CounterComments:
		return "comment_count"
	default:
		return ""
	}
}

// CacheKey returns the cached-value key for one item
func (k CounterKind) CacheKey(itemID int64) string {
	return cache.CounterKey(k.String(), itemID)
}

// Counters maintains denormalized per-item counts in the store with a
// write-through cached value. Each write has a small configured chance
// of recomputing the cached value from the authoritative count, which
// self-heals any drift.
type Counters struct {
	items        *db.ItemRepository
	cache        *cache.Cache
	resyncChance float64
	sample       func() float64
	logger       *zap.Logger
}

// NewCounters creates a counter service; resyncChance is the per-write
// reconciliation probability in [0, 1]
func NewCounters(items *db.ItemRepository, c *cache.Cache, resyncChance float64) *Counters {
	return &Counters{
		items:        items,
		cache:        c,
		resyncChance: resyncChance,
		sample:       rand.Float64,
		logger:       logging.WithComponent("counters"),
	}
}

// Incr increments the counter in the store and updates the cached value
func (c *Counters) Incr(ctx context.Context, kind CounterKind, itemID int64) error {
	return c.apply(ctx, kind, itemID, 1)
}

// Decr decrements the counter in the store and updates the cached value
func (c *Counters) Decr(ctx context.Context, kind CounterKind, itemID int64) error {
	return c.apply(ctx, kind, itemID, -1)
}

func (c *Counters) apply(ctx context.Context, kind CounterKind, itemID int64, delta int64) error {
	column := kind.Column()
	if column == "" {
		return fmt.Errorf("unknown counter kind: %d", kind)
	}

	if err := c.items.Increment(ctx, itemID, column, delta); err != nil {
		return fmt.Errorf("failed to update %s counter: %w", kind, err)
	}

	key := kind.CacheKey(itemID)
	if c.sample() < c.resyncChance {
		if err := c.reconcile(ctx, kind, itemID); err != nil {
			c.logger.Warn("Counter reconciliation failed",
				zap.Stringer("kind", kind), zap.Int64("item_id", itemID), zap.Error(err))
		}
		return nil
	}

	if err := c.cache.IncrExisting(ctx, key, delta); err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
		c.logger.Warn("Cached counter update failed",
			zap.Stringer("kind", kind), zap.Int64("item_id", itemID), zap.Error(err))
	}
	return nil
}

// Get returns the counter value, from cache when present, loading and
// caching the authoritative value on a miss
func (c *Counters) Get(ctx context.Context, kind CounterKind, itemID int64) (int64, error) {
	column := kind.Column()
	if column == "" {
		return 0, fmt.Errorf("unknown counter kind: %d", kind)
	}

	key := kind.CacheKey(itemID)
	cached, err := c.cache.Get(ctx, key)
	if err == nil && cached != "" {
		if value, perr := strconv.ParseInt(cached, 10, 64); perr == nil {
			return value, nil
		}
	}

	value, err := c.items.Count(ctx, itemID, column)
	if err != nil {
		return 0, fmt.Errorf("failed to load %s counter: %w", kind, err)
	}

	if err := c.cache.Set(ctx, key, value, 0); err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
		c.logger.Warn("Counter cache population failed",
			zap.Stringer("kind", kind), zap.Int64("item_id", itemID), zap.Error(err))
	}
	return value, nil
}

// reconcile overwrites the cached value with the authoritative count
func (c *Counters) reconcile(ctx context.Context, kind CounterKind, itemID int64) error {
	value, err := c.items.Count(ctx, itemID, kind.Column())
	if err != nil {
		return err
	}
	err = c.cache.Set(ctx, kind.CacheKey(itemID), value, 0)
	if errors.Is(err, cache.ErrCacheDisabled) {
		return nil
	}
	return err
}
