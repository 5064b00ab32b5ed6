package feed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedmill/feedmill/internal/cache"
)

func bodies(entries []EntrySnapshot) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Item.Body
	}
	return out
}

func TestTimelineHeadPage(t *testing.T) {
	h := newFeedHarness(t, 10, 100, nil)
	timeline := NewTimeline(h.entries, h.lists, 2, 5)
	ctx := context.Background()

	author := h.seedAuthor(t, "alice")
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		h.publish(t, author.ID, bodyName(i), base.Add(time.Duration(i)*time.Minute))
	}

	page, err := timeline.Page(ctx, author.ID, PageRequest{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"i3", "i2"}, bodies(page.Entries))
	assert.True(t, page.HasNextPage)

	page, err = timeline.Page(ctx, author.ID, PageRequest{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"i3", "i2", "i1"}, bodies(page.Entries))
	assert.False(t, page.HasNextPage)
}

func TestTimelineWalkSpansCacheAndStore(t *testing.T) {
	// Capacity 2 keeps only the newest two entries cached; the walk must
	// cross from the cached window into the store without gaps, overlap,
	// or an order change.
	followerID := int64(51)
	h := newFeedHarness(t, 2, 3, []int64{followerID})
	timeline := NewTimeline(h.entries, h.lists, 1, 5)
	ctx := context.Background()

	author := h.seedAuthor(t, "bob")
	base := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 4; i++ {
		h.publish(t, author.ID, bodyName(i), base.Add(time.Duration(i)*time.Minute))
	}

	// The cached window holds exactly the two newest entries
	payloads, fromCache, err := h.lists.Load(ctx, cache.TimelineKey(followerID), func(ctx context.Context) ([][]byte, error) {
		t.Fatal("follower cache should be warm after fan-out")
		return nil, nil
	})
	require.NoError(t, err)
	require.True(t, fromCache)
	require.Len(t, payloads, 2)

	var walked []string
	var before *time.Time
	for steps := 0; ; steps++ {
		require.Less(t, steps, 10, "pagination walk did not terminate")

		page, err := timeline.Page(ctx, followerID, PageRequest{Limit: 1, Before: before})
		require.NoError(t, err)
		walked = append(walked, bodies(page.Entries)...)
		if !page.HasNextPage {
			break
		}
		require.NotEmpty(t, page.Entries)
		cursor := page.Entries[len(page.Entries)-1].CreatedAt
		before = &cursor
	}

	assert.Equal(t, []string{"i4", "i3", "i2", "i1"}, walked)
}

func TestTimelineBeforeCursorInsideCachedWindow(t *testing.T) {
	h := newFeedHarness(t, 10, 100, nil)
	timeline := NewTimeline(h.entries, h.lists, 2, 5)
	ctx := context.Background()

	author := h.seedAuthor(t, "carol")
	base := time.Date(2026, 4, 3, 10, 0, 0, 0, time.UTC)
	var cursors []time.Time
	for i := 1; i <= 4; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		cursors = append(cursors, at)
		h.publish(t, author.ID, bodyName(i), at)
	}

	page, err := timeline.Page(ctx, author.ID, PageRequest{Limit: 2, Before: &cursors[3]})
	require.NoError(t, err)
	assert.Equal(t, []string{"i3", "i2"}, bodies(page.Entries))
	assert.True(t, page.HasNextPage)

	page, err = timeline.Page(ctx, author.ID, PageRequest{Limit: 2, Before: &cursors[1]})
	require.NoError(t, err)
	assert.Equal(t, []string{"i1"}, bodies(page.Entries))
	assert.False(t, page.HasNextPage)
}

func TestTimelineAfterCursor(t *testing.T) {
	h := newFeedHarness(t, 10, 100, nil)
	timeline := NewTimeline(h.entries, h.lists, 2, 5)
	ctx := context.Background()

	author := h.seedAuthor(t, "dave")
	base := time.Date(2026, 4, 4, 10, 0, 0, 0, time.UTC)
	var first time.Time
	for i := 1; i <= 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		if i == 1 {
			first = at
		}
		h.publish(t, author.ID, bodyName(i), at)
	}

	page, err := timeline.Page(ctx, author.ID, PageRequest{Limit: 5, After: &first})
	require.NoError(t, err)
	assert.Equal(t, []string{"i3", "i2"}, bodies(page.Entries))
	assert.False(t, page.HasNextPage)

	page, err = timeline.Page(ctx, author.ID, PageRequest{Limit: 1, After: &first})
	require.NoError(t, err)
	assert.Equal(t, []string{"i3"}, bodies(page.Entries))
	assert.True(t, page.HasNextPage)

	// Nothing newer than the newest entry
	newest := first.Add(2 * time.Minute)
	page, err = timeline.Page(ctx, author.ID, PageRequest{Limit: 5, After: &newest})
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
	assert.False(t, page.HasNextPage)
}

func TestTimelineRejectsConflictingCursors(t *testing.T) {
	h := newFeedHarness(t, 10, 100, nil)
	timeline := NewTimeline(h.entries, h.lists, 2, 5)

	now := time.Now().UTC()
	_, err := timeline.Page(context.Background(), 1, PageRequest{Before: &now, After: &now})
	assert.Error(t, err)
}

func TestTimelineLimitClamping(t *testing.T) {
	h := newFeedHarness(t, 10, 100, nil)
	timeline := NewTimeline(h.entries, h.lists, 2, 3)
	ctx := context.Background()

	author := h.seedAuthor(t, "erin")
	base := time.Date(2026, 4, 5, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		h.publish(t, author.ID, bodyName(i), base.Add(time.Duration(i)*time.Minute))
	}

	// Oversized limits clamp to the maximum
	page, err := timeline.Page(ctx, author.ID, PageRequest{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 3)

	// Zero means the default
	page, err = timeline.Page(ctx, author.ID, PageRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 2)
}

func TestTimelineEmpty(t *testing.T) {
	h := newFeedHarness(t, 10, 100, nil)
	timeline := NewTimeline(h.entries, h.lists, 2, 5)

	page, err := timeline.Page(context.Background(), 777, PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
	assert.False(t, page.HasNextPage)
}

func TestTimelineRecoversFromCorruptedCache(t *testing.T) {
	h := newFeedHarness(t, 10, 100, nil)
	timeline := NewTimeline(h.entries, h.lists, 2, 5)
	ctx := context.Background()

	author := h.seedAuthor(t, "frank")
	base := time.Date(2026, 4, 6, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 2; i++ {
		h.publish(t, author.ID, bodyName(i), base.Add(time.Duration(i)*time.Minute))
	}

	key := cache.TimelineKey(author.ID)
	require.NoError(t, h.cache.ListReplace(ctx, key, [][]byte{[]byte("{corrupted")}))

	page, err := timeline.Page(ctx, author.ID, PageRequest{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"i2", "i1"}, bodies(page.Entries))

	// The poisoned key was dropped; the next read rehydrates cleanly
	page, err = timeline.Page(ctx, author.ID, PageRequest{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"i2", "i1"}, bodies(page.Entries))
}

func bodyName(i int) string {
	return fmt.Sprintf("i%d", i)
}
