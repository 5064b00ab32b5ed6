package feed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/cache"
	"github.com/feedmill/feedmill/internal/db"
	"github.com/feedmill/feedmill/pkg/logging"
	"github.com/feedmill/feedmill/pkg/telemetry"
)

// PageRequest describes one timeline page. At most one of Before
// (created_at__lt, older entries) or After (created_at__gt, newer
// entries) may be set; neither means the newest page.
type PageRequest struct {
	Limit  int
	Before *time.Time
	After  *time.Time
}

// TimelinePage is an ordered (newest-first) slice of a timeline
type TimelinePage struct {
	Entries     []EntrySnapshot
	HasNextPage bool
}

// Timeline assembles timeline pages from the bounded list cache, falling
// back to the system of record whenever the requested page reaches past
// the cached window. Observable ordering is identical either way.
type Timeline struct {
	entries     *db.EntryRepository
	lists       *cache.BoundedList
	defaultSize int
	maxSize     int
	logger      *zap.Logger
}

// NewTimeline creates a timeline reader
func NewTimeline(entries *db.EntryRepository, lists *cache.BoundedList, defaultSize, maxSize int) *Timeline {
	if defaultSize <= 0 {
		defaultSize = 20
	}
	if maxSize < defaultSize {
		maxSize = defaultSize
	}
	return &Timeline{
		entries:     entries,
		lists:       lists,
		defaultSize: defaultSize,
		maxSize:     maxSize,
		logger:      logging.WithComponent("timeline"),
	}
}

// Page returns one page of the owner's timeline
func (t *Timeline) Page(ctx context.Context, ownerID int64, req PageRequest) (*TimelinePage, error) {
	ctx, span := telemetry.StartSpan(ctx, "timeline.page")
	defer span.End()

	if req.Before != nil && req.After != nil {
		return nil, fmt.Errorf("at most one cursor direction may be set")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = t.defaultSize
	}
	if limit > t.maxSize {
		limit = t.maxSize
	}

	candidates, complete, err := t.candidates(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	switch {
	case req.After != nil:
		return t.pageAfter(candidates, *req.After, limit), nil
	case req.Before != nil:
		return t.pageBefore(ctx, ownerID, candidates, complete, *req.Before, limit)
	default:
		return t.pageHead(ctx, ownerID, candidates, complete, limit)
	}
}

// candidates returns the owner's newest-first entry sequence and whether
// it is known to be the complete history. A capacity-full cache hit may
// be truncated; a cold load or a short cache hit is complete.
func (t *Timeline) candidates(ctx context.Context, ownerID int64) ([]EntrySnapshot, bool, error) {
	key := cache.TimelineKey(ownerID)
	fallback := timelineFallback(t.entries, ownerID)

	payloads, fromCache, err := t.lists.Load(ctx, key, fallback)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load timeline: %w", err)
	}

	snaps, err := unmarshalEntries(payloads)
	if err != nil {
		// A corrupted cache entry is recoverable: drop the key and
		// serve this read straight from the store.
		t.logger.Warn("Cached timeline corrupted, rehydrating",
			zap.Int64("owner_id", ownerID), zap.Error(err))
		if invErr := t.lists.Invalidate(ctx, key); invErr != nil {
			t.logger.Warn("Cache invalidation failed",
				zap.Int64("owner_id", ownerID), zap.Error(invErr))
		}
		rows, qerr := t.entries.ByOwner(ctx, ownerID, 0)
		if qerr != nil {
			return nil, false, qerr
		}
		full := make([]EntrySnapshot, len(rows))
		for i := range rows {
			full[i] = NewEntrySnapshot(&rows[i])
		}
		return full, true, nil
	}

	complete := !fromCache || len(snaps) < t.lists.Capacity()
	return snaps, complete, nil
}

// pageHead serves the newest page (no cursor)
func (t *Timeline) pageHead(ctx context.Context, ownerID int64, candidates []EntrySnapshot, complete bool, limit int) (*TimelinePage, error) {
	page := candidates
	if len(page) > limit {
		page = page[:limit]
	}
	hasNext, err := t.hasOlder(ctx, ownerID, candidates, complete, page)
	if err != nil {
		return nil, err
	}
	return &TimelinePage{Entries: page, HasNextPage: hasNext}, nil
}

// pageAfter serves entries strictly newer than the cursor. New entries
// are always pushed to the head, so the candidate sequence is always
// sufficient for this direction.
func (t *Timeline) pageAfter(candidates []EntrySnapshot, after time.Time, limit int) *TimelinePage {
	newer := make([]EntrySnapshot, 0, limit)
	count := 0
	for _, snap := range candidates {
		if !snap.CreatedAt.After(after) {
			break
		}
		count++
		if len(newer) < limit {
			newer = append(newer, snap)
		}
	}
	return &TimelinePage{Entries: newer, HasNextPage: count > limit}
}

// pageBefore serves entries strictly older than the cursor, reaching
// into the system of record when the cursor points past the cached
// window
func (t *Timeline) pageBefore(ctx context.Context, ownerID int64, candidates []EntrySnapshot, complete bool, before time.Time, limit int) (*TimelinePage, error) {
	older := make([]EntrySnapshot, 0, limit)
	for _, snap := range candidates {
		if snap.CreatedAt.Before(before) {
			older = append(older, snap)
		}
	}

	if complete || len(older) > limit {
		// The page fits inside what we already have.
		page := older
		if len(page) > limit {
			page = page[:limit]
		}
		hasNext, err := t.hasOlder(ctx, ownerID, older, complete, page)
		if err != nil {
			return nil, err
		}
		return &TimelinePage{Entries: page, HasNextPage: hasNext}, nil
	}

	if len(older) == limit {
		// Page filled exactly from the cached window; older history may
		// exist only in the store.
		hasNext, err := t.entries.ExistsOlderThan(ctx, ownerID, older[len(older)-1].CreatedAt)
		if err != nil {
			return nil, err
		}
		return &TimelinePage{Entries: older, HasNextPage: hasNext}, nil
	}

	// The cursor reaches past the cached window: the cache cannot tell
	// how much older history exists, so the store answers the whole page.
	return t.pageFromStore(ctx, ownerID, before, limit)
}

// pageFromStore serves a created_at__lt page directly from the system
// of record
func (t *Timeline) pageFromStore(ctx context.Context, ownerID int64, before time.Time, limit int) (*TimelinePage, error) {
	rows, err := t.entries.PageBefore(ctx, ownerID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to page from store: %w", err)
	}

	page := make([]EntrySnapshot, len(rows))
	for i := range rows {
		page[i] = NewEntrySnapshot(&rows[i])
	}

	hasNext := false
	if len(page) > 0 {
		hasNext, err = t.entries.ExistsOlderThan(ctx, ownerID, page[len(page)-1].CreatedAt)
		if err != nil {
			return nil, err
		}
	}
	return &TimelinePage{Entries: page, HasNextPage: hasNext}, nil
}

// hasOlder reports whether entries older than the returned page exist,
// preferring the in-memory candidate sequence and falling back to a
// cheap store existence check when the sequence may be truncated
func (t *Timeline) hasOlder(ctx context.Context, ownerID int64, candidates []EntrySnapshot, complete bool, page []EntrySnapshot) (bool, error) {
	if len(page) == 0 {
		return false, nil
	}
	if len(candidates) > len(page) {
		return true, nil
	}
	if complete {
		return false, nil
	}
	return t.entries.ExistsOlderThan(ctx, ownerID, page[len(page)-1].CreatedAt)
}
