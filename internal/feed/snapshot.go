package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/feedmill/feedmill/internal/cache"
	"github.com/feedmill/feedmill/internal/db"
	"github.com/feedmill/feedmill/internal/models"
)

// ItemSnapshot is the cached projection of an item and its author,
// embedded in every cache entry so reads need no per-item lookup
type ItemSnapshot struct {
	ID         int64     `json:"id"`
	AuthorID   int64     `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// EntrySnapshot is the serialized form of a timeline entry. It is a
// point-in-time snapshot: later mutations of the underlying item or
// author rows are not reflected until the list is rehydrated.
type EntrySnapshot struct {
	ID        int64        `json:"id"`
	OwnerID   int64        `json:"owner_id"`
	ItemID    int64        `json:"item_id"`
	CreatedAt time.Time    `json:"created_at"`
	Item      ItemSnapshot `json:"item"`
}

// NewEntrySnapshot builds a snapshot from an entry with its item and
// author preloaded
func NewEntrySnapshot(entry *models.FeedEntry) EntrySnapshot {
	snap := EntrySnapshot{
		ID:        entry.ID,
		OwnerID:   entry.OwnerID,
		ItemID:    entry.ItemID,
		CreatedAt: entry.CreatedAt,
	}
	if entry.Item != nil {
		snap.Item = ItemSnapshot{
			ID:        entry.Item.ID,
			AuthorID:  entry.Item.AuthorID,
			Body:      entry.Item.Body,
			CreatedAt: entry.Item.CreatedAt,
		}
		if entry.Item.Author != nil {
			snap.Item.AuthorName = entry.Item.Author.Name
		}
	}
	return snap
}

// Marshal serializes the snapshot for cache storage
func (s EntrySnapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalEntrySnapshot decodes one cached payload
func UnmarshalEntrySnapshot(data []byte) (EntrySnapshot, error) {
	var snap EntrySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return EntrySnapshot{}, fmt.Errorf("failed to decode cached entry: %w", err)
	}
	return snap, nil
}

// marshalEntries serializes entry rows in order
func marshalEntries(entries []models.FeedEntry) ([][]byte, error) {
	payloads := make([][]byte, len(entries))
	for i := range entries {
		data, err := NewEntrySnapshot(&entries[i]).Marshal()
		if err != nil {
			return nil, err
		}
		payloads[i] = data
	}
	return payloads, nil
}

// unmarshalEntries decodes cached payloads in order
func unmarshalEntries(payloads [][]byte) ([]EntrySnapshot, error) {
	snaps := make([]EntrySnapshot, len(payloads))
	for i, data := range payloads {
		snap, err := UnmarshalEntrySnapshot(data)
		if err != nil {
			return nil, err
		}
		snaps[i] = snap
	}
	return snaps, nil
}

// timelineFallback builds the hydration query for one owner's bounded
// list: the full newest-first entry history, serialized
func timelineFallback(entries *db.EntryRepository, ownerID int64) cache.FallbackFunc {
	return func(ctx context.Context) ([][]byte, error) {
		rows, err := entries.ByOwner(ctx, ownerID, 0)
		if err != nil {
			return nil, err
		}
		return marshalEntries(rows)
	}
}
