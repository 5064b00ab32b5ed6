package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/feed"
	"github.com/feedmill/feedmill/internal/models"
	"github.com/feedmill/feedmill/internal/social"
)

// createItemRequest is the publish payload
type createItemRequest struct {
	AuthorID int64  `json:"author_id" binding:"required"`
	Body     string `json:"body" binding:"required"`
}

// createItem publishes an item: the item row and the author's own
// timeline entry are written before the response; follower fan-out is
// asynchronous
func (r *Router) createItem(c *gin.Context) {
	var req createItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	author, err := r.users.GetByID(c.Request.Context(), req.AuthorID)
	if err != nil {
		r.logger.Error("Failed to load author", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if author == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "author not found"})
		return
	}

	item := models.Item{
		AuthorID:  req.AuthorID,
		Body:      req.Body,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.items.Create(c.Request.Context(), &item); err != nil {
		r.logger.Error("Failed to create item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if err := r.fanout.Publish(c.Request.Context(), &item); err != nil {
		r.logger.Error("Failed to publish item",
			zap.Int64("item_id", item.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         item.ID,
		"author_id":  item.AuthorID,
		"body":       item.Body,
		"created_at": item.CreatedAt,
	})
}

// getTimeline serves one cursor page of a user's timeline
func (r *Router) getTimeline(c *gin.Context) {
	ownerID, ok := pathID(c)
	if !ok {
		return
	}

	req := feed.PageRequest{}
	if raw := c.Query("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page_size"})
			return
		}
		req.Limit = size
	}

	lt := c.Query("created_at__lt")
	gt := c.Query("created_at__gt")
	if lt != "" && gt != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only one cursor direction allowed"})
		return
	}
	if lt != "" {
		cursor, err := time.Parse(time.RFC3339Nano, lt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid created_at__lt cursor"})
			return
		}
		req.Before = &cursor
	}
	if gt != "" {
		cursor, err := time.Parse(time.RFC3339Nano, gt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid created_at__gt cursor"})
			return
		}
		req.After = &cursor
	}

	page, err := r.timeline.Page(c.Request.Context(), ownerID, req)
	if err != nil {
		r.logger.Error("Failed to assemble timeline page",
			zap.Int64("owner_id", ownerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries":       page.Entries,
		"has_next_page": page.HasNextPage,
	})
}

// followRequest identifies the acting follower
type followRequest struct {
	FollowerID int64 `json:"follower_id" binding:"required"`
}

func (r *Router) follow(c *gin.Context) {
	followingID, ok := pathID(c)
	if !ok {
		return
	}
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := r.social.Follow(c.Request.Context(), req.FollowerID, followingID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Router) unfollow(c *gin.Context) {
	followingID, ok := pathID(c)
	if !ok {
		return
	}
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := r.social.Unfollow(c.Request.Context(), req.FollowerID, followingID); err != nil {
		r.logger.Error("Failed to unfollow", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Router) getFollowers(c *gin.Context) {
	r.listRelations(c, r.social.FollowersPage)
}

func (r *Router) getFollowing(c *gin.Context) {
	r.listRelations(c, r.social.FollowingPage)
}

func (r *Router) listRelations(c *gin.Context, load func(ctx context.Context, userID int64, page, pageSize int) ([]*models.User, error)) {
	userID, ok := pathID(c)
	if !ok {
		return
	}

	page := 1
	if raw := c.Query("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
			return
		}
		page = parsed
	}
	pageSize := 20
	if raw := c.Query("page_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page_size"})
			return
		}
		pageSize = parsed
	}

	users, err := load(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		if errors.Is(err, social.ErrPageOutOfRange) {
			c.JSON(http.StatusNotFound, gin.H{"error": "page not found"})
			return
		}
		r.logger.Error("Failed to list relations",
			zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	results := make([]gin.H, len(users))
	for i, user := range users {
		results[i] = gin.H{"id": user.ID, "name": user.Name}
	}
	c.JSON(http.StatusOK, gin.H{"users": results, "page": page})
}

// pathID parses the :id path parameter, answering 400 on garbage
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}
