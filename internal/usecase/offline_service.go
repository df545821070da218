package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/offlinecache/internal/connectivity"
	"github.com/hszk-dev/offlinecache/internal/domain/model"
	"github.com/hszk-dev/offlinecache/internal/domain/repository"
	"github.com/hszk-dev/offlinecache/internal/infrastructure/cache"
	"github.com/hszk-dev/offlinecache/internal/infrastructure/metrics"
)

// DownloadRequest is a user's request to make a video available offline.
type DownloadRequest struct {
	VideoID  string
	VideoURL string
	Title    string
}

// ClearResult reports a clear-all operation.
type ClearResult struct {
	RemovedObjects int
	Records        int
	FailedRecords  int
}

// SessionResult reports the expiry sweep run when a session starts.
type SessionResult struct {
	Swept bool
	SweepResult
}

// PayloadSource reads cached payloads for playback.
// repository.BinaryCache satisfies this interface.
type PayloadSource interface {
	Get(ctx context.Context, key string) (io.ReadCloser, *repository.ObjectInfo, error)
}

// OfflineService defines the user-facing operations of the offline cache.
type OfflineService interface {
	// RequestDownload queues a download. It returns repository.ErrAlreadyDownloaded
	// when the video is already available offline, which callers treat as success.
	RequestDownload(ctx context.Context, userID string, req DownloadRequest) error

	// DeleteVideo removes a downloaded video. videoURL may be empty when a record exists.
	DeleteVideo(ctx context.Context, userID, videoID, videoURL string) error

	// IsVideoOffline reports whether the video can be played without network.
	IsVideoOffline(ctx context.Context, userID, videoID string) (bool, error)

	// GetDownloadProgress returns the latest progress; idle when nothing is recorded.
	GetDownloadProgress(ctx context.Context, userID, videoID string) (*model.DownloadProgress, error)

	// ListOfflineVideos returns the user's records, newest first.
	ListOfflineVideos(ctx context.Context, userID string) ([]*model.OfflineVideo, error)

	// ClearAllVideos empties the binary cache namespace and deletes the user's records.
	ClearAllVideos(ctx context.Context, userID string) (ClearResult, error)

	// GetStorageStats summarizes the user's offline library.
	GetStorageStats(ctx context.Context, userID string) (model.StorageStats, error)

	// StartSession runs the expiry sweep once per (user, session).
	StartSession(ctx context.Context, userID, sessionID string) (SessionResult, error)

	// OpenPlayback streams the payload of a video available offline.
	// Caller is responsible for closing the returned ReadCloser.
	OpenPlayback(ctx context.Context, userID, videoID string) (io.ReadCloser, *repository.ObjectInfo, error)
}

// OfflineServiceConfig holds configuration for OfflineService.
type OfflineServiceConfig struct {
	// SessionTTL is how long a session marker suppresses repeated sweeps.
	SessionTTL time.Duration
}

// DefaultOfflineServiceConfig returns the default configuration.
func DefaultOfflineServiceConfig() OfflineServiceConfig {
	return OfflineServiceConfig{SessionTTL: 24 * time.Hour}
}

type offlineService struct {
	store    repository.MetadataStore
	engine   DownloadEngine
	worker   CacheWorker
	queue    repository.TaskQueue
	progress cache.ProgressCache
	sweeper  Sweeper
	payloads PayloadSource
	notifier repository.Notifier
	network  connectivity.Checker
	sfGroup  singleflight.Group
	now      func() time.Time

	sessionTTL time.Duration
}

// OfflineServiceDeps groups the collaborators of OfflineService.
type OfflineServiceDeps struct {
	Store    repository.MetadataStore
	Engine   DownloadEngine
	Worker   CacheWorker
	Queue    repository.TaskQueue
	Progress cache.ProgressCache
	Sweeper  Sweeper
	Payloads PayloadSource
	Notifier repository.Notifier
	Network  connectivity.Checker
}

// NewOfflineService creates a new OfflineService instance.
func NewOfflineService(deps OfflineServiceDeps, cfg OfflineServiceConfig) OfflineService {
	return &offlineService{
		store:      deps.Store,
		engine:     deps.Engine,
		worker:     deps.Worker,
		queue:      deps.Queue,
		progress:   deps.Progress,
		sweeper:    deps.Sweeper,
		payloads:   deps.Payloads,
		notifier:   deps.Notifier,
		network:    deps.Network,
		now:        time.Now,
		sessionTTL: cfg.SessionTTL,
	}
}

// RequestDownload validates the request and publishes a task for the download worker.
func (s *offlineService) RequestDownload(ctx context.Context, userID string, req DownloadRequest) error {
	if userID == "" || !s.worker.Ready() {
		return repository.ErrNotReady
	}
	// Validation only; the worker creates the real record.
	if _, err := model.NewOfflineVideo(userID, req.VideoID, req.VideoURL, req.Title, s.now()); err != nil {
		return err
	}

	available, err := s.engine.IsAvailableOffline(ctx, req.VideoID, userID)
	if err != nil {
		return err
	}
	if available {
		return repository.ErrAlreadyDownloaded
	}

	if !s.network.Online(ctx) {
		return repository.ErrOffline
	}

	task := repository.DownloadTask{
		VideoID:     req.VideoID,
		VideoURL:    req.VideoURL,
		Title:       req.Title,
		UserID:      userID,
		RequestedAt: s.now().UTC(),
	}
	if err := s.queue.PublishDownloadTask(ctx, task); err != nil {
		return fmt.Errorf("publish download task: %w", err)
	}

	slog.Info("download queued",
		"video_id", req.VideoID,
		"user_id", userID,
	)
	return nil
}

// DeleteVideo resolves the payload URL from the record when not given.
func (s *offlineService) DeleteVideo(ctx context.Context, userID, videoID, videoURL string) error {
	if userID == "" {
		return repository.ErrNotReady
	}

	title := videoID
	record, err := s.store.Get(ctx, userID, videoID)
	if err != nil {
		return fmt.Errorf("get metadata: %w", err)
	}
	if record != nil {
		if videoURL == "" {
			videoURL = record.VideoURL
		}
		title = displayTitle(record.Title, videoID)
	}
	if record == nil && videoURL == "" {
		return repository.ErrVideoNotFound
	}

	if err := s.engine.Delete(ctx, videoID, videoURL, userID); err != nil {
		s.notify(ctx, repository.NotificationDeleteFailed, repository.LevelError, userID, videoID, 0,
			"Delete failed",
			fmt.Sprintf("Could not remove %q: %v", title, err),
		)
		return err
	}

	s.notify(ctx, repository.NotificationVideoDeleted, repository.LevelInfo, userID, videoID, 0,
		"Video removed",
		fmt.Sprintf("%q is no longer available offline", title),
	)
	return nil
}

func (s *offlineService) IsVideoOffline(ctx context.Context, userID, videoID string) (bool, error) {
	return s.engine.IsAvailableOffline(ctx, videoID, userID)
}

// GetDownloadProgress reads the live snapshot first and falls back to the metadata record.
// Concurrent lookups of the same video share one fallback query.
func (s *offlineService) GetDownloadProgress(ctx context.Context, userID, videoID string) (*model.DownloadProgress, error) {
	if userID == "" {
		return nil, repository.ErrNotReady
	}

	key := model.CompositeCacheKey(userID, videoID)
	result, err, shared := s.sfGroup.Do(key, func() (any, error) {
		return s.getProgress(ctx, userID, videoID)
	})

	if shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}

	if err != nil {
		return nil, err
	}

	// Copy so callers never share the result of a coalesced lookup.
	progress := *result.(*model.DownloadProgress)
	return &progress, nil
}

func (s *offlineService) getProgress(ctx context.Context, userID, videoID string) (*model.DownloadProgress, error) {
	if s.progress != nil {
		snapshot, err := s.progress.Get(ctx, userID, videoID)
		switch {
		case err != nil:
			metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
			slog.Warn("progress cache get failed, falling back to database",
				"video_id", videoID,
				"user_id", userID,
				"error", err,
			)
		case snapshot != nil:
			metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusHit, metrics.CacheTypeRedis).Inc()
			return snapshot, nil
		default:
			metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusMiss, metrics.CacheTypeRedis).Inc()
		}
	}

	record, err := s.store.Get(ctx, userID, videoID)
	if err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	if record == nil {
		return &model.DownloadProgress{VideoID: videoID, Progress: 0, Status: model.StatusIdle}, nil
	}
	return &model.DownloadProgress{
		VideoID:  record.VideoID,
		Progress: record.Progress,
		Status:   record.Status,
	}, nil
}

func (s *offlineService) ListOfflineVideos(ctx context.Context, userID string) ([]*model.OfflineVideo, error) {
	if userID == "" {
		return nil, repository.ErrNotReady
	}
	return s.store.GetByUser(ctx, userID)
}

// ClearAllVideos resets the whole binary cache namespace, then deletes the user's records.
func (s *offlineService) ClearAllVideos(ctx context.Context, userID string) (ClearResult, error) {
	if userID == "" || !s.worker.Ready() {
		return ClearResult{}, repository.ErrNotReady
	}

	videos, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		return ClearResult{}, fmt.Errorf("list offline videos: %w", err)
	}

	var result ClearResult
	var errs []error

	removed, err := s.worker.ClearAll(ctx)
	result.RemovedObjects = removed
	if err != nil {
		errs = append(errs, fmt.Errorf("clear payloads: %w", err))
	}

	cleared, err := s.store.ClearByUser(ctx, userID)
	result.Records = cleared.Total
	result.FailedRecords = cleared.Failed
	if err != nil {
		errs = append(errs, fmt.Errorf("clear metadata: %w", err))
	}

	if s.progress != nil {
		for _, v := range videos {
			if err := s.progress.Delete(ctx, userID, v.VideoID); err != nil {
				slog.Warn("failed to delete progress snapshot",
					"video_id", v.VideoID,
					"user_id", userID,
					"error", err,
				)
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.notify(ctx, repository.NotificationDeleteFailed, repository.LevelError, userID, "", 0,
			"Clear failed",
			fmt.Sprintf("Some offline videos could not be removed: %v", err),
		)
		return result, err
	}

	s.notify(ctx, repository.NotificationVideosCleared, repository.LevelInfo, userID, "", result.Records,
		"Offline videos cleared",
		fmt.Sprintf("%d offline video(s) removed", result.Records),
	)
	return result, nil
}

func (s *offlineService) GetStorageStats(ctx context.Context, userID string) (model.StorageStats, error) {
	if userID == "" {
		return model.StorageStats{}, repository.ErrNotReady
	}
	videos, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		return model.StorageStats{}, fmt.Errorf("list offline videos: %w", err)
	}
	return model.ComputeStorageStats(videos, s.now()), nil
}

// StartSession sweeps the user's expired videos unless this session was already swept.
// Without a working marker store the sweep runs anyway.
func (s *offlineService) StartSession(ctx context.Context, userID, sessionID string) (SessionResult, error) {
	if userID == "" {
		return SessionResult{}, repository.ErrNotReady
	}

	marked := false
	if s.progress != nil && sessionID != "" {
		first, err := s.progress.MarkSession(ctx, userID, sessionID, s.sessionTTL)
		marked = err == nil && first
		switch {
		case err != nil:
			metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpMark, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
			slog.Warn("failed to mark session, sweeping anyway",
				"user_id", userID,
				"error", err,
			)
		case !first:
			metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpMark, metrics.CacheStatusHit, metrics.CacheTypeRedis).Inc()
			return SessionResult{}, nil
		default:
			metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpMark, metrics.CacheStatusSuccess, metrics.CacheTypeRedis).Inc()
		}
	}

	result, err := s.sweeper.SweepUser(ctx, userID)
	if err != nil {
		// Let the next start of this session retry the sweep.
		if marked {
			if clearErr := s.progress.ClearSession(context.WithoutCancel(ctx), userID, sessionID); clearErr != nil {
				metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpDelete, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
				slog.Warn("failed to clear session marker after sweep failure",
					"user_id", userID,
					"error", clearErr,
				)
			}
		}
		return SessionResult{}, err
	}
	return SessionResult{Swept: true, SweepResult: result}, nil
}

// OpenPlayback reads the bare-URL payload after the availability check.
func (s *offlineService) OpenPlayback(ctx context.Context, userID, videoID string) (io.ReadCloser, *repository.ObjectInfo, error) {
	if userID == "" {
		return nil, nil, repository.ErrNotReady
	}

	record, err := s.store.Get(ctx, userID, videoID)
	if err != nil {
		return nil, nil, fmt.Errorf("get metadata: %w", err)
	}
	if record == nil || !record.IsAvailableFor(userID, s.now()) {
		return nil, nil, repository.ErrVideoNotFound
	}

	body, info, err := s.payloads.Get(ctx, record.VideoURL)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			slog.Warn("offline record without payload",
				"video_id", videoID,
				"user_id", userID,
			)
			return nil, nil, repository.ErrVideoNotFound
		}
		return nil, nil, fmt.Errorf("open payload: %w", err)
	}
	return body, info, nil
}

func (s *offlineService) notify(ctx context.Context, typ repository.NotificationType, level, userID, videoID string, count int, title, description string) {
	sendNotification(ctx, s.notifier, repository.Notification{
		ID:          uuid.New(),
		Type:        typ,
		Level:       level,
		UserID:      userID,
		VideoID:     videoID,
		Title:       title,
		Description: description,
		Count:       count,
		OccurredAt:  s.now().UTC(),
	})
}
