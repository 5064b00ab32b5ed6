package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client)
}

func staticFallback(rows ...string) FallbackFunc {
	return func(ctx context.Context) ([][]byte, error) {
		payloads := make([][]byte, len(rows))
		for i, r := range rows {
			payloads[i] = []byte(r)
		}
		return payloads, nil
	}
}

func TestBoundedListLoadColdAndWarm(t *testing.T) {
	c := newTestCache(t)
	list := NewBoundedList(c, 3)
	ctx := context.Background()

	// Cold load hydrates from the fallback and returns it
	rows, fromCache, err := list.Load(ctx, "timelines:1", staticFallback("c", "b", "a"))
	require.NoError(t, err)
	assert.False(t, fromCache)
	require.Len(t, rows, 3)
	assert.Equal(t, "c", string(rows[0]))

	// Warm load serves the stored list without touching the fallback
	rows, fromCache, err = list.Load(ctx, "timelines:1", func(ctx context.Context) ([][]byte, error) {
		t.Fatal("fallback must not run on a warm key")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, fromCache)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"c", "b", "a"}, toStrings(rows))
}

func TestBoundedListColdLoadReturnsFullResultCachesCapacity(t *testing.T) {
	c := newTestCache(t)
	list := NewBoundedList(c, 2)
	ctx := context.Background()

	// Fallback holds more history than the cache may keep
	rows, fromCache, err := list.Load(ctx, "timelines:2", staticFallback("e", "d", "c", "b", "a"))
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Len(t, rows, 5, "cold load must return the full store result")

	// Only the first two entries were cached
	cached, _, err := list.Load(ctx, "timelines:2", staticFallback())
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "d"}, toStrings(cached))
}

func TestBoundedListPushOrderAndTrim(t *testing.T) {
	c := newTestCache(t)
	list := NewBoundedList(c, 3)
	ctx := context.Background()

	// Warm the key with an empty history
	_, _, err := list.Load(ctx, "timelines:3", staticFallback("seed"))
	require.NoError(t, err)

	noFallback := func(ctx context.Context) ([][]byte, error) {
		t.Fatal("fallback must not run on a warm key")
		return nil, nil
	}

	for i := 1; i <= 5; i++ {
		require.NoError(t, list.Push(ctx, "timelines:3", []byte(fmt.Sprintf("e%d", i)), noFallback))
	}

	rows, fromCache, err := list.Load(ctx, "timelines:3", noFallback)
	require.NoError(t, err)
	assert.True(t, fromCache)

	// Strict reverse-insertion order, trimmed to capacity
	assert.Equal(t, []string{"e5", "e4", "e3"}, toStrings(rows))
}

func TestBoundedListPushColdKeyHydrates(t *testing.T) {
	c := newTestCache(t)
	list := NewBoundedList(c, 3)
	ctx := context.Background()

	// A push on a cold key performs the same hydration as a load; the
	// fallback already includes the new entry.
	err := list.Push(ctx, "timelines:4", []byte("new"), staticFallback("new", "old"))
	require.NoError(t, err)

	rows, fromCache, err := list.Load(ctx, "timelines:4", staticFallback())
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, []string{"new", "old"}, toStrings(rows))
}

func TestBoundedListInvalidate(t *testing.T) {
	c := newTestCache(t)
	list := NewBoundedList(c, 3)
	ctx := context.Background()

	_, _, err := list.Load(ctx, "timelines:5", staticFallback("a"))
	require.NoError(t, err)

	require.NoError(t, list.Invalidate(ctx, "timelines:5"))

	// Next load rehydrates from the store
	rows, fromCache, err := list.Load(ctx, "timelines:5", staticFallback("b", "a"))
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, []string{"b", "a"}, toStrings(rows))
}

func TestBoundedListLengthNeverExceedsCapacity(t *testing.T) {
	c := newTestCache(t)
	list := NewBoundedList(c, 4)
	ctx := context.Background()

	require.NoError(t, list.Push(ctx, "timelines:6", []byte("e0"), staticFallback("e0")))
	for i := 1; i <= 20; i++ {
		require.NoError(t, list.Push(ctx, "timelines:6", []byte(fmt.Sprintf("e%d", i)), staticFallback()))

		rows, _, err := list.Load(ctx, "timelines:6", staticFallback())
		require.NoError(t, err)
		assert.LessOrEqual(t, len(rows), 4)
	}
}

func TestBoundedListDisabledCacheServesFromFallback(t *testing.T) {
	list := NewBoundedList(nil, 3)
	ctx := context.Background()

	rows, fromCache, err := list.Load(ctx, "timelines:7", staticFallback("b", "a"))
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, []string{"b", "a"}, toStrings(rows))

	assert.NoError(t, list.Push(ctx, "timelines:7", []byte("x"), staticFallback()))
	assert.NoError(t, list.Invalidate(ctx, "timelines:7"))
}

func toStrings(rows [][]byte) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = string(r)
	}
	return out
}
