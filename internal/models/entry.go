package models

import (
	"time"
)

// FeedEntry represents one item's appearance on one owner's timeline.
// The unique (owner_id, item_id) index is what makes fan-out batch
// retries safe: re-inserting an already fanned-out entry is a no-op.
type FeedEntry struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	OwnerID   int64     `gorm:"not null;uniqueIndex:idx_feed_entries_owner_item;index:idx_feed_entries_owner_created,priority:1;column:owner_id"`
	ItemID    int64     `gorm:"not null;uniqueIndex:idx_feed_entries_owner_item;column:item_id"`
	CreatedAt time.Time `gorm:"not null;index:idx_feed_entries_owner_created,priority:2;column:created_at"`

	// Relationships
	Owner *User `gorm:"foreignKey:OwnerID;references:ID"`
	Item  *Item `gorm:"foreignKey:ItemID;references:ID"`
}

// TableName specifies the table name for FeedEntry
func (FeedEntry) TableName() string {
	return "feed_entries"
}
