package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/api"
	"github.com/feedmill/feedmill/internal/cache"
	"github.com/feedmill/feedmill/internal/db"
	"github.com/feedmill/feedmill/internal/feed"
	"github.com/feedmill/feedmill/internal/queue"
	"github.com/feedmill/feedmill/internal/social"
	"github.com/feedmill/feedmill/pkg/config"
	"github.com/feedmill/feedmill/pkg/logging"
	"github.com/feedmill/feedmill/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting Feedmill API Server")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	// Initialize database
	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Initialize Redis cache
	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

	// Wire repositories and services
	repo := db.NewRepository(database.DB)
	entries := db.NewEntryRepository(repo)
	items := db.NewItemRepository(repo)
	users := db.NewUserRepository(repo)
	follows := db.NewFollowRepository(repo)

	lists := cache.NewBoundedList(redisCache, cfg.Feed.CacheCapacity)
	taskQueue := queue.New(redisCache, cfg.Queue.Key)
	socialService := social.NewService(follows, redisCache)
	fanout := feed.NewFanout(entries, items, socialService, lists, taskQueue, cfg.Feed.FanoutBatchSize)
	timeline := feed.NewTimeline(entries, lists, cfg.Feed.DefaultPageSize, cfg.Feed.MaxPageSize)

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	apiRouter := api.NewRouter(fanout, timeline, socialService, items, users, database)
	apiRouter.SetupRoutes(router)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
