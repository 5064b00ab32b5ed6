package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

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
	logger.Info("Starting Feedmill Fan-out Worker")

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

	// Initialize Redis cache; the worker cannot run without the queue
	if !cfg.Redis.Enabled {
		logger.Fatal("Redis is required for the fan-out worker")
	}
	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

	// Wire the fan-out pipeline
	repo := db.NewRepository(database.DB)
	entries := db.NewEntryRepository(repo)
	items := db.NewItemRepository(repo)
	follows := db.NewFollowRepository(repo)

	lists := cache.NewBoundedList(redisCache, cfg.Feed.CacheCapacity)
	taskQueue := queue.New(redisCache, cfg.Queue.Key)
	socialService := social.NewService(follows, redisCache)
	fanout := feed.NewFanout(entries, items, socialService, lists, taskQueue, cfg.Feed.FanoutBatchSize)

	worker := queue.NewWorker(taskQueue, &cfg.Queue)
	fanout.RegisterHandlers(worker)
	worker.Start()

	logger.Info("Worker initialized, waiting for interrupt...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	worker.Stop()
	logger.Info("Worker exited")
}
