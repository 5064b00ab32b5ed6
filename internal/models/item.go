package models

import (
	"time"
)

// Item represents a published item (the thing fanned out into timelines)
type Item struct {
	ID           int64     `gorm:"primaryKey;autoIncrement;column:id"`
	AuthorID     int64     `gorm:"not null;index;column:author_id"`
	Body         string    `gorm:"type:text;column:body"`
	CreatedAt    time.Time `gorm:"not null;column:created_at"`
	LikeCount    int64     `gorm:"not null;default:0;column:like_count"`
	CommentCount int64     `gorm:"not null;default:0;column:comment_count"`

	// Relationships
	Author *User `gorm:"foreignKey:AuthorID;references:ID"`
}

// TableName specifies the table name for Item
func (Item) TableName() string {
	return "feed_items"
}
