package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/vendordispatch/internal/breaker"
	"github.com/cuongbtq/vendordispatch/internal/cache"
	"github.com/cuongbtq/vendordispatch/internal/config"
	"github.com/cuongbtq/vendordispatch/internal/queue"
	"github.com/cuongbtq/vendordispatch/internal/store"
	"github.com/cuongbtq/vendordispatch/internal/sweeper"
	"github.com/cuongbtq/vendordispatch/internal/vendor"
	"github.com/cuongbtq/vendordispatch/internal/worker"
	"github.com/cuongbtq/vendordispatch/shared/logger"
	"github.com/cuongbtq/vendordispatch/shared/postgresql"
	sharedredis "github.com/cuongbtq/vendordispatch/shared/redis"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize Redis client, shared by the job queue and the status cache
	redisClient, err := initRedis(&cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	appLogger.Info("Redis connection established")

	jobStore := store.New(dbClient, appLogger.Logger)
	jobQueue := queue.New(redisClient.Raw(), queue.Config{
		Stream:           cfg.Redis.Stream,
		VisibilityWindow: cfg.Redis.VisibilityWindow,
	}, appLogger.Logger)
	statusCache := cache.New(redisClient.Raw(), appLogger.Logger)
	vendorClient := initVendors(cfg)

	if err := jobQueue.EnsureConsumerGroup(context.Background(), cfg.Redis.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to ensure consumer group: %w", err)
	}

	// Create worker instance
	workerInstance := worker.New(worker.Config{
		Logger:        appLogger.Logger,
		Store:         jobStore,
		Queue:         jobQueue,
		Cache:         statusCache,
		Vendors:       vendorClient,
		ConsumerGroup: cfg.Redis.ConsumerGroup,
		WorkerID:      cfg.App.Name,
		Concurrency:   cfg.Worker.Concurrency,
		BatchSize:     cfg.Worker.BatchSize,
		PollTimeout:   cfg.Worker.PollTimeout,
	})

	// Create the timeout sweeper instance
	sweeperInstance := sweeper.New(sweeper.Config{
		Logger:      appLogger.Logger,
		Store:       jobStore,
		Cache:       statusCache,
		AsyncVendor: worker.AsyncVendorName,
		Interval:    cfg.Sweeper.Interval,
		StaleAfter:  cfg.Sweeper.StaleAfter,
		ScanLimit:   cfg.Sweeper.ScanLimit,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go workerInstance.Start(ctx)
	go sweeperInstance.Run(ctx)
	go runRetentionSweep(ctx, jobStore, appLogger.Logger, cfg.Retention)

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	appLogger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
	)

	// Cancel context to stop worker and sweeper
	cancel()

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Stop worker
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if redisClient != nil {
			redisClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRedis initializes the Redis client backing both the job queue and
// the status cache.
func initRedis(cfg *config.RedisConfig, logger *slog.Logger) (*sharedredis.Client, error) {
	redisConfig := &sharedredis.Config{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return sharedredis.NewClient(redisConfig, logger)
}

// purger is the subset of internal/store's Store this loop needs.
type purger interface {
	PurgeExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}

// runRetentionSweep periodically deletes terminal jobs older than
// cfg.MaxAge, per spec's "jobs older than 30 days MAY be purged" note.
// It runs alongside the worker pool and timeout sweeper and stops when
// ctx is canceled.
func runRetentionSweep(ctx context.Context, store purger, logger *slog.Logger, cfg config.RetentionConfig) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}

	logger.Info("retention sweep started", slog.Duration("interval", interval), slog.Duration("max_age", maxAge))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("retention sweep stopped - context canceled")
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx, maxAge)
			if err != nil {
				logger.Error("retention sweep: purge failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				logger.Info("retention sweep purged expired jobs", slog.Int64("count", n))
			}
		}
	}
}

// initVendors builds the vendor registry from the configured vendor list
// and the shared breaker thresholds.
func initVendors(cfg *config.Config) *vendor.Client {
	vendorConfigs := make([]vendor.Config, 0, len(cfg.Vendors))
	for _, v := range cfg.Vendors {
		vendorConfigs = append(vendorConfigs, vendor.Config{
			Name:               v.Name,
			URL:                v.URL,
			RateLimitPerMinute: v.RateLimitPerMinute,
			IsAsync:            v.IsAsync,
			Timeout:            v.Timeout,
		})
	}

	return vendor.New(cfg.Server.APIBaseURL, vendorConfigs, breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		MonitoringWindow: cfg.Breaker.MonitoringWindow,
		MinimumRequests:  cfg.Breaker.MinimumRequests,
	})
}
