package cache

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/feedmill/feedmill/pkg/logging"
)

// FallbackFunc queries the system of record for the full newest-first
// list of serialized entries under a key. It is invoked on a cache miss.
type FallbackFunc func(ctx context.Context) ([][]byte, error)

// BoundedList is a capacity-limited, per-key ordered list cache over the
// system of record. The cached projection is disposable: it can be
// deleted at any time and the next Load rebuilds it from the fallback.
type BoundedList struct {
	cache    *Cache
	capacity int
	logger   *zap.Logger
}

// NewBoundedList creates a bounded list cache with the given capacity
func NewBoundedList(cache *Cache, capacity int) *BoundedList {
	return &BoundedList{
		cache:    cache,
		capacity: capacity,
		logger:   logging.WithComponent("bounded-list"),
	}
}

// Capacity returns the maximum stored list length
func (b *BoundedList) Capacity() int {
	return b.capacity
}

// Load returns the stored list if the key exists. On a cold key it runs
// the fallback, caches the first capacity entries, and returns the full
// fallback result, which may exceed capacity. Failing to populate the
// cache never fails the read.
func (b *BoundedList) Load(ctx context.Context, key string, fallback FallbackFunc) ([][]byte, bool, error) {
	exists, err := b.cache.Exists(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheDisabled) {
			b.logger.Warn("Cache existence check failed, serving from store",
				zap.String("key", key), zap.Error(err))
		}
		rows, ferr := fallback(ctx)
		return rows, false, ferr
	}

	if exists {
		payloads, err := b.cache.ListRange(ctx, key)
		if err == nil {
			return payloads, true, nil
		}
		b.logger.Warn("Cache read failed, serving from store",
			zap.String("key", key), zap.Error(err))
	}

	rows, err := fallback(ctx)
	if err != nil {
		return nil, false, err
	}

	stored := rows
	if len(stored) > b.capacity {
		stored = stored[:b.capacity]
	}
	if err := b.cache.ListReplace(ctx, key, stored); err != nil {
		b.logger.Warn("Cache population failed",
			zap.String("key", key), zap.Error(err))
	}

	return rows, false, nil
}

// Push prepends a serialized entry to the stored list and trims it to
// capacity. A cold key is hydrated from the fallback instead: the
// fallback runs after the new row was committed to the store, so the
// fresh query already includes it.
func (b *BoundedList) Push(ctx context.Context, key string, payload []byte, fallback FallbackFunc) error {
	exists, err := b.cache.Exists(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheDisabled) {
			return nil
		}
		return fmt.Errorf("cache existence check failed: %w", err)
	}

	if !exists {
		rows, err := fallback(ctx)
		if err != nil {
			return fmt.Errorf("cache hydration query failed: %w", err)
		}
		if len(rows) > b.capacity {
			rows = rows[:b.capacity]
		}
		return b.cache.ListReplace(ctx, key, rows)
	}

	return b.cache.ListPrependTrim(ctx, key, payload, int64(b.capacity))
}

// Invalidate removes the key entirely; the next Load rehydrates from
// the system of record
func (b *BoundedList) Invalidate(ctx context.Context, key string) error {
	err := b.cache.Delete(ctx, key)
	if errors.Is(err, ErrCacheDisabled) {
		return nil
	}
	return err
}
