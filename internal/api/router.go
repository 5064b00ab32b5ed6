package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/db"
	"github.com/feedmill/feedmill/internal/feed"
	"github.com/feedmill/feedmill/internal/social"
	"github.com/feedmill/feedmill/pkg/logging"
)

// Router sets up API routes
type Router struct {
	fanout   *feed.Fanout
	timeline *feed.Timeline
	social   *social.Service
	items    *db.ItemRepository
	users    *db.UserRepository
	database *db.DB
	logger   *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(
	fanout *feed.Fanout,
	timeline *feed.Timeline,
	socialService *social.Service,
	items *db.ItemRepository,
	users *db.UserRepository,
	database *db.DB,
) *Router {
	return &Router{
		fanout:   fanout,
		timeline: timeline,
		social:   socialService,
		items:    items,
		users:    users,
		database: database,
		logger:   logging.GetLogger().With(zap.String("component", "api-router")),
	}
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	api := engine.Group("/api")
	{
		api.POST("/items", r.createItem)
		api.GET("/users/:id/timeline", r.getTimeline)
		api.POST("/users/:id/follow", r.follow)
		api.DELETE("/users/:id/follow", r.unfollow)
		api.GET("/users/:id/followers", r.getFollowers)
		api.GET("/users/:id/following", r.getFollowing)
	}
}

func (r *Router) healthHandler(c *gin.Context) {
	if r.database != nil {
		if err := r.database.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "OK",
		"service": "feedmill-api",
	})
}
