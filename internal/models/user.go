package models

import (
	"time"
)

// User represents a feed owner / item author
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	Name      string    `gorm:"type:varchar(32);not null;uniqueIndex;column:name"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "feed_users"
}
