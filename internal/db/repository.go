package db

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/feedmill/feedmill/internal/models"
)

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// UserRepository provides user-related database operations
type UserRepository struct {
	*Repository
}

// NewUserRepository creates a new user repository
func NewUserRepository(repo *Repository) *UserRepository {
	return &UserRepository{Repository: repo}
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetByName retrieves a user by name
func (r *UserRepository) GetByName(ctx context.Context, name string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// ItemRepository provides item-related database operations
type ItemRepository struct {
	*Repository
}

// NewItemRepository creates a new item repository
func NewItemRepository(repo *Repository) *ItemRepository {
	return &ItemRepository{Repository: repo}
}

// GetByID retrieves an item by ID, with its author preloaded
func (r *ItemRepository) GetByID(ctx context.Context, id int64) (*models.Item, error) {
	var item models.Item
	if err := r.db.WithContext(ctx).Preload("Author").First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// Create creates a new item
func (r *ItemRepository) Create(ctx context.Context, item *models.Item) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// Count returns the authoritative value of a denormalized counter column
func (r *ItemRepository) Count(ctx context.Context, id int64, column string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Item{}).
		Where("id = ?", id).
		Select(column).
		Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Increment adds delta to a denormalized counter column
func (r *ItemRepository) Increment(ctx context.Context, id int64, column string, delta int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Item{}).
		Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta)).Error
}

// EntryRepository provides timeline entry database operations.
// This is the ordered range-query surface of the system of record.
type EntryRepository struct {
	*Repository
}

// NewEntryRepository creates a new entry repository
func NewEntryRepository(repo *Repository) *EntryRepository {
	return &EntryRepository{Repository: repo}
}

// Create creates a single timeline entry
func (r *EntryRepository) Create(ctx context.Context, entry *models.FeedEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// BulkCreate inserts many entries in one statement. Rows that collide
// with the (owner_id, item_id) unique index are skipped, so re-running
// a fan-out batch never creates duplicates.
func (r *EntryRepository) BulkCreate(ctx context.Context, entries []models.FeedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entries).Error
}

// ByOwner retrieves an owner's entries newest-first with item and author
// preloaded. A limit of 0 or less means no limit.
func (r *EntryRepository) ByOwner(ctx context.Context, ownerID int64, limit int) ([]models.FeedEntry, error) {
	query := r.db.WithContext(ctx).
		Preload("Item").
		Preload("Item.Author").
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []models.FeedEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// PageBefore retrieves up to limit entries strictly older than the
// given boundary, newest-first
func (r *EntryRepository) PageBefore(ctx context.Context, ownerID int64, before interface{}, limit int) ([]models.FeedEntry, error) {
	var entries []models.FeedEntry
	err := r.db.WithContext(ctx).
		Preload("Item").
		Preload("Item.Author").
		Where("owner_id = ? AND created_at < ?", ownerID, before).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// PageAfter retrieves up to limit entries strictly newer than the given
// boundary, newest-first
func (r *EntryRepository) PageAfter(ctx context.Context, ownerID int64, after interface{}, limit int) ([]models.FeedEntry, error) {
	var entries []models.FeedEntry
	err := r.db.WithContext(ctx).
		Preload("Item").
		Preload("Item.Author").
		Where("owner_id = ? AND created_at > ?", ownerID, after).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ExistsOlderThan reports whether the owner has any entry strictly
// older than the given boundary. Used for has_next_page checks.
func (r *EntryRepository) ExistsOlderThan(ctx context.Context, ownerID int64, boundary interface{}) (bool, error) {
	var entry models.FeedEntry
	err := r.db.WithContext(ctx).
		Select("id").
		Where("owner_id = ? AND created_at < ?", ownerID, boundary).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ByItemAndOwners retrieves the canonical entry rows for one item across
// a set of owners, with item and author preloaded. Fan-out batch tasks
// use this after a bulk insert so retried batches push the original
// rows, not zero-valued duplicates.
func (r *EntryRepository) ByItemAndOwners(ctx context.Context, itemID int64, ownerIDs []int64) ([]models.FeedEntry, error) {
	var entries []models.FeedEntry
	err := r.db.WithContext(ctx).
		Preload("Item").
		Preload("Item.Author").
		Where("item_id = ? AND owner_id IN ?", itemID, ownerIDs).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// CountByItem counts entries created for one item
func (r *EntryRepository) CountByItem(ctx context.Context, itemID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.FeedEntry{}).
		Where("item_id = ?", itemID).
		Count(&count).Error
	return count, err
}

// FollowRepository provides follow-graph database operations
type FollowRepository struct {
	*Repository
}

// NewFollowRepository creates a new follow repository
func NewFollowRepository(repo *Repository) *FollowRepository {
	return &FollowRepository{Repository: repo}
}

// Create records a follow relationship; re-following is a no-op
func (r *FollowRepository) Create(ctx context.Context, follow *models.Follow) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(follow).Error
}

// Delete removes a follow relationship
func (r *FollowRepository) Delete(ctx context.Context, followerID, followingID int64) error {
	return r.db.WithContext(ctx).
		Where("follower_id = ? AND following_id = ?", followerID, followingID).
		Delete(&models.Follow{}).Error
}

// FollowerIDs retrieves the ids of everyone following the given user,
// oldest follow first
func (r *FollowRepository) FollowerIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&models.Follow{}).
		Where("following_id = ?", userID).
		Order("created_at ASC").
		Pluck("follower_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// FollowingIDs retrieves the ids of everyone the given user follows
func (r *FollowRepository) FollowingIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&models.Follow{}).
		Where("follower_id = ?", userID).
		Order("created_at ASC").
		Pluck("following_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// CountFollowers counts followers of the given user
func (r *FollowRepository) CountFollowers(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Follow{}).
		Where("following_id = ?", userID).
		Count(&count).Error
	return count, err
}

// CountFollowing counts users the given user follows
func (r *FollowRepository) CountFollowing(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Follow{}).
		Where("follower_id = ?", userID).
		Count(&count).Error
	return count, err
}

// FollowersPage retrieves a page of followers by offset, newest follow first
func (r *FollowRepository) FollowersPage(ctx context.Context, userID int64, offset, limit int) ([]*models.User, error) {
	var users []*models.User
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Joins("INNER JOIN feed_follows ON feed_follows.follower_id = feed_users.id").
		Where("feed_follows.following_id = ?", userID).
		Order("feed_follows.created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// FollowingPage retrieves a page of followed users by offset, newest follow first
func (r *FollowRepository) FollowingPage(ctx context.Context, userID int64, offset, limit int) ([]*models.User, error) {
	var users []*models.User
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Joins("INNER JOIN feed_follows ON feed_follows.following_id = feed_users.id").
		Where("feed_follows.follower_id = ?", userID).
		Order("feed_follows.created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}
