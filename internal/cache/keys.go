package cache

import (
	"fmt"
)

// Cache key builders. One deterministic key per (entity kind, owner),
// so every owner gets exactly one bounded list / cached value.

// TimelineKey is the bounded-list key for one owner's timeline
func TimelineKey(ownerID int64) string {
	return fmt.Sprintf("timelines:%d", ownerID)
}

// FollowingKey is the key for one user's cached following-id set
func FollowingKey(userID int64) string {
	return fmt.Sprintf("followings:%d", userID)
}

// CounterKey is the key for one item's cached counter of a given kind
func CounterKey(kind string, itemID int64) string {
	return fmt.Sprintf("counters:%s:%d", kind, itemID)
}
