package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/offlinecache/internal/api"
	"github.com/hszk-dev/offlinecache/internal/api/handler"
	"github.com/hszk-dev/offlinecache/internal/cacheworker"
	"github.com/hszk-dev/offlinecache/internal/config"
	"github.com/hszk-dev/offlinecache/internal/connectivity"
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
	logger.Info("connected to MinIO", slog.String("bucket", storageClient.Bucket()))

	queueClient, err := queue.NewClient(ctx, queue.DefaultClientConfig(cfg.RabbitMQ.URL()))
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

	// The API owns its own cache worker for delete and clear requests.
	worker := cacheworker.New(storageClient)
	worker.Start(ctx)
	defer worker.Stop()

	network := connectivity.NewProber(connectivity.ProberConfig{
		URL:      cfg.Network.ProbeURL,
		Interval: cfg.Network.ProbeInterval,
		Timeout:  cfg.Network.ProbeTimeout,
	})
	progress := cache.NewRedisProgressCache(redisClient)

	engine := usecase.NewDownloadEngine(store, worker, progress, queueClient, network, usecase.DownloadEngineConfig{
		TempDir:      cfg.Worker.TempDir,
		ProgressTTL:  cfg.Cache.ProgressTTL,
		FetchTimeout: cfg.Worker.FetchTimeout,
	})
	sweeper := usecase.NewSweeper(store, engine, queueClient, usecase.SweeperConfig{
		Concurrency: cfg.Worker.Concurrency,
	})
	offlineSvc := usecase.NewOfflineService(usecase.OfflineServiceDeps{
		Store:    store,
		Engine:   engine,
		Worker:   worker,
		Queue:    queueClient,
		Progress: progress,
		Sweeper:  sweeper,
		Payloads: storageClient,
		Notifier: queueClient,
		Network:  network,
	}, usecase.OfflineServiceConfig{
		SessionTTL: cfg.Cache.SessionTTL,
	})

	health := handler.NewHealthHandler(map[string]handler.Check{
		"postgres": pgClient.Ping,
		"minio":    storageClient.Ping,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}, 2*time.Second)

	r := api.NewRouter(api.RouterConfig{
		Logger:    logger,
		JWTSecret: []byte(cfg.Auth.JWTSecret),
		Offline:   handler.NewOfflineHandler(offlineSvc),
		Health:    health,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
