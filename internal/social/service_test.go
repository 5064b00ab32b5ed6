package social

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/feedmill/feedmill/internal/cache"
	"github.com/feedmill/feedmill/internal/db"
	"github.com/feedmill/feedmill/internal/models"
)

type socialHarness struct {
	users   *db.UserRepository
	follows *db.FollowRepository
	cache   *cache.Cache
	service *Service
}

func newSocialHarness(t *testing.T) *socialHarness {
	t.Helper()

	path := filepath.Join(t.TempDir(), "feedmill.db")
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&models.User{}, &models.Follow{}))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	repo := db.NewRepository(gdb)
	h := &socialHarness{
		users:   db.NewUserRepository(repo),
		follows: db.NewFollowRepository(repo),
		cache:   cache.NewWithClient(client),
	}
	h.service = NewService(h.follows, h.cache)
	return h
}

func (h *socialHarness) seedUser(t *testing.T, name string) *models.User {
	t.Helper()
	user := models.User{Name: name, CreatedAt: time.Now().UTC()}
	require.NoError(t, h.users.Create(context.Background(), &user))
	return &user
}

func TestFollowAndUnfollow(t *testing.T) {
	h := newSocialHarness(t)
	ctx := context.Background()

	require.NoError(t, h.service.Follow(ctx, 1, 2))
	// Re-following is a no-op, not an error
	require.NoError(t, h.service.Follow(ctx, 1, 2))

	ids, err := h.service.FollowerIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)

	require.NoError(t, h.service.Unfollow(ctx, 1, 2))
	ids, err = h.service.FollowerIDs(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFollowSelfRejected(t *testing.T) {
	h := newSocialHarness(t)
	assert.Error(t, h.service.Follow(context.Background(), 5, 5))
}

func TestFollowingIDSetCachesAndInvalidates(t *testing.T) {
	h := newSocialHarness(t)
	ctx := context.Background()

	require.NoError(t, h.service.Follow(ctx, 1, 2))

	set, err := h.service.FollowingIDSet(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, set, int64(2))

	// A direct store write bypasses invalidation; the cached set is stale
	require.NoError(t, h.follows.Create(ctx, &models.Follow{
		FollowerID: 1, FollowingID: 3, CreatedAt: time.Now().UTC(),
	}))
	set, err = h.service.FollowingIDSet(ctx, 1)
	require.NoError(t, err)
	assert.NotContains(t, set, int64(3))

	// Mutating through the service invalidates, so the next read is fresh
	require.NoError(t, h.service.Follow(ctx, 1, 4))
	set, err = h.service.FollowingIDSet(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, set, int64(2))
	assert.Contains(t, set, int64(3))
	assert.Contains(t, set, int64(4))
}

func TestFollowersPageOffsets(t *testing.T) {
	h := newSocialHarness(t)
	ctx := context.Background()

	target := h.seedUser(t, "target")
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		fan := h.seedUser(t, fmt.Sprintf("fan-%d", i))
		require.NoError(t, h.follows.Create(ctx, &models.Follow{
			FollowerID:  fan.ID,
			FollowingID: target.ID,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}

	page, err := h.service.FollowersPage(ctx, target.ID, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "fan-5", page[0].Name)
	assert.Equal(t, "fan-4", page[1].Name)

	page, err = h.service.FollowersPage(ctx, target.ID, 3, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "fan-1", page[0].Name)

	_, err = h.service.FollowersPage(ctx, target.ID, 4, 2)
	assert.ErrorIs(t, err, ErrPageOutOfRange)

	_, err = h.service.FollowersPage(ctx, target.ID, 0, 2)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
}

func TestFollowingPageEmptyListing(t *testing.T) {
	h := newSocialHarness(t)
	ctx := context.Background()

	// The first page of an empty listing is valid and empty
	page, err := h.service.FollowingPage(ctx, 999, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	// Anything past it is out of range
	_, err = h.service.FollowingPage(ctx, 999, 2, 10)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
}

func TestPageOffset(t *testing.T) {
	tests := []struct {
		name     string
		page     int
		pageSize int
		total    int64
		want     int
		wantErr  bool
	}{
		{name: "first page", page: 1, pageSize: 10, total: 25, want: 0},
		{name: "middle page", page: 2, pageSize: 10, total: 25, want: 10},
		{name: "last partial page", page: 3, pageSize: 10, total: 25, want: 20},
		{name: "past the end", page: 4, pageSize: 10, total: 25, wantErr: true},
		{name: "zero page", page: 0, pageSize: 10, total: 25, wantErr: true},
		{name: "empty first page", page: 1, pageSize: 10, total: 0, want: 0},
		{name: "exact boundary", page: 2, pageSize: 10, total: 20, want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pageOffset(tt.page, tt.pageSize, tt.total)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPageOutOfRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
