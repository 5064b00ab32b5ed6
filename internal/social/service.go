package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/cache"
	"github.com/feedmill/feedmill/internal/db"
	"github.com/feedmill/feedmill/internal/models"
	"github.com/feedmill/feedmill/pkg/logging"
)

// ErrPageOutOfRange is returned by offset-paged listings when the
// requested page lies beyond the last valid page. Unlike cursor paging,
// an out-of-range offset page is a client error, not an empty page.
var ErrPageOutOfRange = errors.New("page out of range")

// Service maintains the follow graph and serves follower/following
// lookups. The following-id set is cached and explicitly invalidated on
// every mutation.
type Service struct {
	follows *db.FollowRepository
	cache   *cache.Cache
	logger  *zap.Logger
}

// NewService creates a social graph service
func NewService(follows *db.FollowRepository, c *cache.Cache) *Service {
	return &Service{
		follows: follows,
		cache:   c,
		logger:  logging.WithComponent("social"),
	}
}

// Follow records that follower now follows following
func (s *Service) Follow(ctx context.Context, followerID, followingID int64) error {
	if followerID == followingID {
		return fmt.Errorf("cannot follow yourself")
	}
	follow := models.Follow{
		FollowerID:  followerID,
		FollowingID: followingID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.follows.Create(ctx, &follow); err != nil {
		return fmt.Errorf("failed to create follow: %w", err)
	}
	s.invalidateFollowing(ctx, followerID)
	return nil
}

// Unfollow removes the relationship
func (s *Service) Unfollow(ctx context.Context, followerID, followingID int64) error {
	if err := s.follows.Delete(ctx, followerID, followingID); err != nil {
		return fmt.Errorf("failed to delete follow: %w", err)
	}
	s.invalidateFollowing(ctx, followerID)
	return nil
}

// FollowerIDs resolves everyone following the given user, in follow
// order. This is the lookup the fan-out pipeline consumes.
func (s *Service) FollowerIDs(ctx context.Context, userID int64) ([]int64, error) {
	return s.follows.FollowerIDs(ctx, userID)
}

// FollowingIDSet returns the set of user ids the given user follows,
// from cache when warm
func (s *Service) FollowingIDSet(ctx context.Context, userID int64) (map[int64]struct{}, error) {
	key := cache.FollowingKey(userID)

	cached, err := s.cache.Get(ctx, key)
	if err == nil && cached != "" {
		var ids []int64
		if uerr := json.Unmarshal([]byte(cached), &ids); uerr == nil {
			return idSet(ids), nil
		}
	}

	ids, err := s.follows.FollowingIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load following ids: %w", err)
	}

	if data, merr := json.Marshal(ids); merr == nil {
		if serr := s.cache.Set(ctx, key, data, 0); serr != nil && !errors.Is(serr, cache.ErrCacheDisabled) {
			s.logger.Warn("Following cache population failed",
				zap.Int64("user_id", userID), zap.Error(serr))
		}
	}
	return idSet(ids), nil
}

// InvalidateFollowing drops the cached following set for a user
func (s *Service) InvalidateFollowing(ctx context.Context, userID int64) error {
	err := s.cache.Delete(ctx, cache.FollowingKey(userID))
	if errors.Is(err, cache.ErrCacheDisabled) {
		return nil
	}
	return err
}

func (s *Service) invalidateFollowing(ctx context.Context, userID int64) {
	if err := s.InvalidateFollowing(ctx, userID); err != nil {
		s.logger.Warn("Following cache invalidation failed",
			zap.Int64("user_id", userID), zap.Error(err))
	}
}

// FollowersPage returns one offset page of a user's followers
func (s *Service) FollowersPage(ctx context.Context, userID int64, page, pageSize int) ([]*models.User, error) {
	total, err := s.follows.CountFollowers(ctx, userID)
	if err != nil {
		return nil, err
	}
	offset, err := pageOffset(page, pageSize, total)
	if err != nil {
		return nil, err
	}
	return s.follows.FollowersPage(ctx, userID, offset, pageSize)
}

// FollowingPage returns one offset page of the users someone follows
func (s *Service) FollowingPage(ctx context.Context, userID int64, page, pageSize int) ([]*models.User, error) {
	total, err := s.follows.CountFollowing(ctx, userID)
	if err != nil {
		return nil, err
	}
	offset, err := pageOffset(page, pageSize, total)
	if err != nil {
		return nil, err
	}
	return s.follows.FollowingPage(ctx, userID, offset, pageSize)
}

// pageOffset validates 1-based offset paging. The first page of an
// empty listing is valid and empty; anything past the last page is not.
func pageOffset(page, pageSize int, total int64) (int, error) {
	if page < 1 || pageSize < 1 {
		return 0, ErrPageOutOfRange
	}
	lastPage := (total + int64(pageSize) - 1) / int64(pageSize)
	if lastPage < 1 {
		lastPage = 1
	}
	if int64(page) > lastPage {
		return 0, ErrPageOutOfRange
	}
	return (page - 1) * pageSize, nil
}

func idSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
