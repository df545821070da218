package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/offlinecache/internal/cacheworker"
	"github.com/hszk-dev/offlinecache/internal/config"
	"github.com/hszk-dev/offlinecache/internal/connectivity"
	"github.com/hszk-dev/offlinecache/internal/domain/repository"
	"github.com/hszk-dev/offlinecache/internal/infrastructure/cache"
	"github.com/hszk-dev/offlinecache/internal/infrastructure/postgres"
	"github.com/hszk-dev/offlinecache/internal/infrastructure/queue"
	"github.com/hszk-dev/offlinecache/internal/infrastructure/storage"
	"github.com/hszk-dev/offlinecache/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Downloads are staged here before they are committed to the binary cache.
	if err := os.MkdirAll(cfg.Worker.TempDir, 0o755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}

	// Initialize infrastructure clients
	pgClient, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pgClient.Close()

	store := postgres.NewMetadataStore(pgClient.Pool())
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare schema: %w", err)
	}
	logger.Info("connected to PostgreSQL")

	storageClient, err := storage.NewClient(ctx, storage.ClientConfig{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		Namespace: cfg.MinIO.Namespace,
		UseSSL:    cfg.MinIO.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to MinIO: %w", err)
	}
	logger.Info("connected to MinIO")

	queueCfg := queue.DefaultClientConfig(cfg.RabbitMQ.URL())
	queueCfg.Prefetch = cfg.Worker.Concurrency
	queueClient, err := queue.NewClient(ctx, queueCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer queueClient.Close()
	logger.Info("connected to RabbitMQ")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis")

	// The cache worker outlives ctx so downloads still draining at shutdown
	// can commit or roll back their payloads.
	worker := cacheworker.New(storageClient)
	worker.Start(context.Background())
	defer worker.Stop()

	network := connectivity.NewProber(connectivity.ProberConfig{
		URL:      cfg.Network.ProbeURL,
		Interval: cfg.Network.ProbeInterval,
		Timeout:  cfg.Network.ProbeTimeout,
	})

	engine := usecase.NewDownloadEngine(
		store,
		worker,
		cache.NewRedisProgressCache(redisClient),
		queueClient,
		network,
		usecase.DownloadEngineConfig{
			TempDir:      cfg.Worker.TempDir,
			ProgressTTL:  cfg.Cache.ProgressTTL,
			FetchTimeout: cfg.Worker.FetchTimeout,
		},
	)

	if cfg.Worker.SweepOnStart {
		sweeper := usecase.NewSweeper(store, engine, queueClient, usecase.SweeperConfig{
			Concurrency: cfg.Worker.Concurrency,
		})
		result, err := sweeper.SweepAll(ctx)
		if err != nil {
			// A failed start-up sweep is retried by the next session start.
			logger.Error("start-up sweep failed", slog.String("error", err.Error()))
		} else {
			logger.Info("start-up sweep finished",
				slog.Int("expired", result.Expired),
				slog.Int("deleted", result.Deleted),
				slog.Int("failed", result.Failed),
			)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Closed once the consumer returned, which happens only after its handlers finished.
	consumerDone := make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		defer close(consumerDone)
		logger.Info("starting worker, consuming download tasks",
			slog.Int("concurrency", queueCfg.Prefetch),
		)
		err := queueClient.ConsumeDownloadTasks(ctx, func(task repository.DownloadTask) error {
			logger.Info("processing task",
				slog.String("video_id", task.VideoID),
				slog.String("user_id", task.UserID),
			)

			err := engine.Download(ctx, usecase.DownloadInput{
				VideoID:  task.VideoID,
				VideoURL: task.VideoURL,
				Title:    task.Title,
				UserID:   task.UserID,
			}, nil)
			if err != nil {
				logger.Error("download failed",
					slog.String("video_id", task.VideoID),
					slog.String("user_id", task.UserID),
					slog.String("error", err.Error()),
				)
				return err
			}

			logger.Info("task completed",
				slog.String("video_id", task.VideoID),
				slog.String("user_id", task.UserID),
			)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("consumer error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down worker", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Cancelling stops consumption and interrupts in-flight reads; failures are recorded by the engine.
	cancel()

	select {
	case <-consumerDone:
		logger.Info("all in-flight downloads finished")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, some downloads may not have finished")
	}

	logger.Info("worker stopped")
	return nil
}
