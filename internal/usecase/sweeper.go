package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hszk-dev/offlinecache/internal/domain/model"
	"github.com/hszk-dev/offlinecache/internal/domain/repository"
	"github.com/hszk-dev/offlinecache/internal/infrastructure/metrics"
)

// SweepResult reports one sweep. Deleted counts only entries removed without error.
type SweepResult struct {
	Expired int
	Deleted int
	Failed  int
}

// Sweeper removes expired offline videos.
type Sweeper interface {
	// SweepUser removes the expired videos of a single user.
	SweepUser(ctx context.Context, userID string) (SweepResult, error)

	// SweepAll removes expired videos of every user.
	SweepAll(ctx context.Context) (SweepResult, error)
}

// SweeperConfig holds configuration for Sweeper.
type SweeperConfig struct {
	// Concurrency bounds parallel deletes within one sweep.
	Concurrency int
}

// DefaultSweeperConfig returns the default configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{Concurrency: 4}
}

type sweeper struct {
	store    repository.MetadataStore
	engine   DownloadEngine
	notifier repository.Notifier
	now      func() time.Time

	concurrency int
}

// NewSweeper creates a new Sweeper instance.
func NewSweeper(
	store repository.MetadataStore,
	engine DownloadEngine,
	notifier repository.Notifier,
	cfg SweeperConfig,
) Sweeper {
	return newSweeper(store, engine, notifier, cfg)
}

func newSweeper(store repository.MetadataStore, engine DownloadEngine, notifier repository.Notifier, cfg SweeperConfig) *sweeper {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &sweeper{
		store:       store,
		engine:      engine,
		notifier:    notifier,
		now:         time.Now,
		concurrency: concurrency,
	}
}

// SweepUser scans only the user's records.
func (s *sweeper) SweepUser(ctx context.Context, userID string) (SweepResult, error) {
	if userID == "" {
		return SweepResult{}, repository.ErrNotReady
	}

	expired, err := s.store.GetExpiredByUser(ctx, userID, s.now())
	if err != nil {
		return SweepResult{}, fmt.Errorf("get expired videos: %w", err)
	}

	result := s.deleteAll(ctx, expired)
	if result.Deleted > 0 {
		s.notifyRemoved(ctx, userID, result.Deleted)
	}
	return result, nil
}

// SweepAll scans every user's records and notifies each affected user.
func (s *sweeper) SweepAll(ctx context.Context) (SweepResult, error) {
	expired, err := s.store.GetExpired(ctx, s.now())
	if err != nil {
		return SweepResult{}, fmt.Errorf("get expired videos: %w", err)
	}

	byUser := make(map[string][]*model.OfflineVideo)
	for _, v := range expired {
		byUser[v.UserID] = append(byUser[v.UserID], v)
	}

	var total SweepResult
	for userID, videos := range byUser {
		result := s.deleteAll(ctx, videos)
		if result.Deleted > 0 {
			s.notifyRemoved(ctx, userID, result.Deleted)
		}
		total.Expired += result.Expired
		total.Deleted += result.Deleted
		total.Failed += result.Failed
	}
	return total, nil
}

// deleteAll deletes each video through the engine. A failed item is logged and skipped.
func (s *sweeper) deleteAll(ctx context.Context, videos []*model.OfflineVideo) SweepResult {
	var deleted, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, v := range videos {
		g.Go(func() error {
			if err := s.engine.Delete(gctx, v.VideoID, v.VideoURL, v.UserID); err != nil {
				failed.Add(1)
				metrics.SweptVideosTotal.WithLabelValues(metrics.SweepFailed).Inc()
				slog.Warn("failed to remove expired video",
					"video_id", v.VideoID,
					"user_id", v.UserID,
					"error", err,
				)
				return nil
			}
			deleted.Add(1)
			metrics.SweptVideosTotal.WithLabelValues(metrics.SweepDeleted).Inc()
			return nil
		})
	}
	_ = g.Wait() // Items never return errors

	return SweepResult{
		Expired: len(videos),
		Deleted: int(deleted.Load()),
		Failed:  int(failed.Load()),
	}
}

func (s *sweeper) notifyRemoved(ctx context.Context, userID string, count int) {
	slog.Info("expired offline videos removed", "user_id", userID, "count", count)
	sendNotification(ctx, s.notifier, repository.Notification{
		ID:          uuid.New(),
		Type:        repository.NotificationExpiredRemoved,
		Level:       repository.LevelInfo,
		UserID:      userID,
		Title:       "Expired videos removed",
		Description: fmt.Sprintf("%d expired video(s) removed", count),
		Count:       count,
		OccurredAt:  s.now().UTC(),
	})
}
