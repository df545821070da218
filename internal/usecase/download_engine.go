package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/offlinecache/internal/connectivity"
	"github.com/hszk-dev/offlinecache/internal/domain/model"
	"github.com/hszk-dev/offlinecache/internal/domain/repository"
	"github.com/hszk-dev/offlinecache/internal/infrastructure/cache"
	"github.com/hszk-dev/offlinecache/internal/infrastructure/metrics"
)

const (
	defaultContentType = "video/mp4"
	readChunkSize      = 32 * 1024
)

// ProgressFunc receives the progress of a running download. Values never decrease.
type ProgressFunc func(progress float64)

// DownloadInput identifies a video to download for a user.
type DownloadInput struct {
	VideoID  string
	VideoURL string
	Title    string
	UserID   string
}

// CacheWorker is the message interface of the binary cache owner.
// *cacheworker.Worker satisfies this interface.
type CacheWorker interface {
	Ready() bool
	CacheVideo(ctx context.Context, keys []string, filePath string, size int64, contentType string) error
	DeleteVideo(ctx context.Context, keys ...string) error
	CheckCache(ctx context.Context, key string) (bool, error)
	ClearAll(ctx context.Context) (int, error)
}

// DownloadEngine downloads videos into the offline cache and removes them again.
type DownloadEngine interface {
	// Download fetches a video and stores it under both cache keys.
	// A video already available offline, or already being downloaded, is a no-op.
	Download(ctx context.Context, input DownloadInput, onProgress ProgressFunc) error

	// Delete removes both cache keys and the metadata record.
	// The metadata record is removed even if the binary delete fails.
	Delete(ctx context.Context, videoID, videoURL, userID string) error

	// IsAvailableOffline reports whether userID may play the video without network.
	IsAvailableOffline(ctx context.Context, videoID, userID string) (bool, error)
}

// DownloadEngineConfig holds configuration for DownloadEngine.
type DownloadEngineConfig struct {
	// TempDir receives partial payloads while they stream in.
	TempDir string
	// ProgressTTL is how long progress snapshots live in the progress cache.
	ProgressTTL time.Duration
	// FetchTimeout bounds a whole video fetch. Zero means no limit.
	FetchTimeout time.Duration
}

// DefaultDownloadEngineConfig returns the default configuration.
func DefaultDownloadEngineConfig() DownloadEngineConfig {
	return DownloadEngineConfig{
		TempDir:      os.TempDir(),
		ProgressTTL:  time.Hour,
		FetchTimeout: 30 * time.Minute,
	}
}

type downloadEngine struct {
	store    repository.MetadataStore
	worker   CacheWorker
	progress cache.ProgressCache
	notifier repository.Notifier
	network  connectivity.Checker
	client   *http.Client
	now      func() time.Time

	tempDir     string
	progressTTL time.Duration

	mu       sync.Mutex
	inFlight map[flightKey]struct{}
}

// NewDownloadEngine creates a new DownloadEngine instance.
// progress may be nil, in which case no live snapshots are kept.
func NewDownloadEngine(
	store repository.MetadataStore,
	worker CacheWorker,
	progress cache.ProgressCache,
	notifier repository.Notifier,
	network connectivity.Checker,
	cfg DownloadEngineConfig,
) DownloadEngine {
	return newDownloadEngine(store, worker, progress, notifier, network, cfg)
}

func newDownloadEngine(
	store repository.MetadataStore,
	worker CacheWorker,
	progress cache.ProgressCache,
	notifier repository.Notifier,
	network connectivity.Checker,
	cfg DownloadEngineConfig,
) *downloadEngine {
	return &downloadEngine{
		store:       store,
		worker:      worker,
		progress:    progress,
		notifier:    notifier,
		network:     network,
		client:      &http.Client{Timeout: cfg.FetchTimeout},
		now:         time.Now,
		tempDir:     cfg.TempDir,
		progressTTL: cfg.ProgressTTL,
		inFlight:    make(map[flightKey]struct{}),
	}
}

// Download runs one download attempt.
func (e *downloadEngine) Download(ctx context.Context, input DownloadInput, onProgress ProgressFunc) error {
	if input.UserID == "" || !e.worker.Ready() {
		metrics.DownloadsTotal.WithLabelValues(metrics.DownloadRejected).Inc()
		return repository.ErrNotReady
	}

	if !e.acquire(input.UserID, input.VideoID) {
		metrics.DownloadsTotal.WithLabelValues(metrics.DownloadInFlight).Inc()
		slog.Info("download already in progress",
			"video_id", input.VideoID,
			"user_id", input.UserID,
		)
		return nil
	}
	defer e.release(input.UserID, input.VideoID)

	existing, err := e.store.Get(ctx, input.UserID, input.VideoID)
	if err != nil {
		return fmt.Errorf("get metadata: %w", err)
	}
	if existing != nil && existing.IsAvailableFor(input.UserID, e.now()) {
		metrics.DownloadsTotal.WithLabelValues(metrics.DownloadAlreadyDownloaded).Inc()
		e.notify(ctx, repository.NotificationAlreadyDownloaded, repository.LevelInfo, input.UserID, input.VideoID,
			"Already downloaded",
			fmt.Sprintf("%q is already available offline", displayTitle(input.Title, input.VideoID)),
		)
		return nil
	}

	if !e.network.Online(ctx) {
		metrics.DownloadsTotal.WithLabelValues(metrics.DownloadRejected).Inc()
		return repository.ErrOffline
	}

	video, err := model.NewOfflineVideo(input.UserID, input.VideoID, input.VideoURL, input.Title, e.now())
	if err != nil {
		return fmt.Errorf("create offline video: %w", err)
	}
	if err := e.store.Put(ctx, video); err != nil {
		return fmt.Errorf("save initial metadata: %w", err)
	}
	e.snapshot(ctx, video)

	e.notify(ctx, repository.NotificationDownloadStarted, repository.LevelInfo, input.UserID, input.VideoID,
		"Download started",
		fmt.Sprintf("Downloading %q for offline viewing", displayTitle(input.Title, input.VideoID)),
	)

	metrics.InFlightDownloads.Inc()
	defer metrics.InFlightDownloads.Dec()
	start := time.Now()

	size, err := e.fetchAndCommit(ctx, video, onProgress)
	if err != nil {
		e.fail(ctx, video, err)
		return err
	}

	done := *video
	if err := done.MarkDownloaded(size); err != nil {
		return fmt.Errorf("finalize metadata: %w", err)
	}
	if err := e.store.Put(ctx, &done); err != nil {
		// A payload without a downloaded record is unreachable.
		if delErr := e.worker.DeleteVideo(context.WithoutCancel(ctx), cacheKeys(video)...); delErr != nil {
			slog.Warn("failed to remove payload after metadata failure",
				"video_id", video.VideoID,
				"user_id", video.UserID,
				"error", delErr,
			)
		}
		e.fail(ctx, video, err)
		return fmt.Errorf("save final metadata: %w", err)
	}
	video = &done
	e.snapshot(ctx, video)
	if onProgress != nil {
		onProgress(100)
	}

	metrics.DownloadsTotal.WithLabelValues(metrics.DownloadCompleted).Inc()
	metrics.DownloadDuration.Observe(time.Since(start).Seconds())
	slog.Info("download completed",
		"video_id", video.VideoID,
		"user_id", video.UserID,
		"size", video.Size,
	)
	e.notify(ctx, repository.NotificationDownloadCompleted, repository.LevelInfo, input.UserID, input.VideoID,
		"Download complete",
		fmt.Sprintf("%q is now available offline", displayTitle(input.Title, input.VideoID)),
	)
	return nil
}

// fetchAndCommit streams the payload into a temp file, reporting progress,
// then asks the cache worker to store it under both keys. It returns the payload size.
func (e *downloadEngine) fetchAndCommit(ctx context.Context, video *model.OfflineVideo, onProgress ProgressFunc) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, video.VideoURL, nil)
	if err != nil {
		return 0, &repository.NetworkError{URL: video.VideoURL, Err: err}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, &repository.NetworkError{URL: video.VideoURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &repository.NetworkError{URL: video.VideoURL, StatusCode: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(e.tempDir, "offline-*.part")
	if err != nil {
		return 0, repository.NewStorageError("create temp file", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	received, err := e.stream(ctx, video, resp, tmp, onProgress)
	if err != nil {
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, repository.NewStorageError("close temp file", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}

	if err := e.worker.CacheVideo(ctx, cacheKeys(video), tmp.Name(), received, contentType); err != nil {
		// The reply may be lost after the worker already wrote both keys.
		if delErr := e.worker.DeleteVideo(context.WithoutCancel(ctx), cacheKeys(video)...); delErr != nil {
			slog.Warn("failed to remove payload after commit failure",
				"video_id", video.VideoID,
				"user_id", video.UserID,
				"error", delErr,
			)
		}
		return 0, err
	}

	return received, nil
}

// stream copies the body chunk by chunk. Progress is derived from Content-Length
// when it is known, otherwise it stays at its last value.
// Metadata is persisted whenever the whole percent advances.
func (e *downloadEngine) stream(ctx context.Context, video *model.OfflineVideo, resp *http.Response, dst io.Writer, onProgress ProgressFunc) (int64, error) {
	total := resp.ContentLength
	buf := make([]byte, readChunkSize)
	var received int64
	persisted := math.Floor(video.Progress)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return received, repository.NewStorageError("write temp file", err)
			}
			received += int64(n)
			metrics.DownloadedBytesTotal.Add(float64(n))

			if total > 0 && video.SetProgress(float64(received)/float64(total)*100) {
				if onProgress != nil {
					onProgress(video.Progress)
				}
				if whole := math.Floor(video.Progress); whole > persisted {
					persisted = whole
					if err := e.store.Put(ctx, video); err != nil {
						return received, fmt.Errorf("save progress: %w", err)
					}
					e.snapshot(ctx, video)
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			return received, nil
		}
		if readErr != nil {
			return received, &repository.NetworkError{URL: video.VideoURL, Err: readErr}
		}
	}
}

// fail marks the attempt failed and tells the user. Progress stays as last recorded.
func (e *downloadEngine) fail(ctx context.Context, video *model.OfflineVideo, cause error) {
	metrics.DownloadsTotal.WithLabelValues(metrics.DownloadFailed).Inc()
	slog.Error("download failed",
		"video_id", video.VideoID,
		"user_id", video.UserID,
		"progress", video.Progress,
		"error", cause,
	)

	if err := video.MarkFailed(); err == nil {
		// The request context may already be cancelled; the failure still has to be recorded.
		saveCtx := context.WithoutCancel(ctx)
		if err := e.store.Put(saveCtx, video); err != nil {
			slog.Error("failed to mark video as failed",
				"video_id", video.VideoID,
				"user_id", video.UserID,
				"error", err,
			)
		}
		e.snapshot(saveCtx, video)
	}

	e.notify(ctx, repository.NotificationDownloadFailed, repository.LevelError, video.UserID, video.VideoID,
		"Download failed",
		fmt.Sprintf("Could not download %q: %v", displayTitle(video.Title, video.VideoID), cause),
	)
}

// Delete removes a video's payload and record.
func (e *downloadEngine) Delete(ctx context.Context, videoID, videoURL, userID string) error {
	if userID == "" {
		return repository.ErrNotReady
	}

	var errs []error

	keys := []string{model.CompositeCacheKey(userID, videoID)}
	if videoURL != "" {
		keys = append(keys, videoURL)
	}
	if err := e.worker.DeleteVideo(ctx, keys...); err != nil {
		errs = append(errs, fmt.Errorf("delete payload: %w", err))
	}

	if err := e.store.Delete(ctx, userID, videoID); err != nil {
		errs = append(errs, fmt.Errorf("delete metadata: %w", err))
	}

	if e.progress != nil {
		if err := e.progress.Delete(ctx, userID, videoID); err != nil {
			metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpDelete, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
			slog.Warn("failed to delete progress snapshot",
				"video_id", videoID,
				"user_id", userID,
				"error", err,
			)
		} else {
			metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpDelete, metrics.CacheStatusSuccess, metrics.CacheTypeRedis).Inc()
		}
	}

	return errors.Join(errs...)
}

// IsAvailableOffline consults the metadata record only.
func (e *downloadEngine) IsAvailableOffline(ctx context.Context, videoID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	video, err := e.store.Get(ctx, userID, videoID)
	if err != nil {
		return false, fmt.Errorf("get metadata: %w", err)
	}
	if video == nil {
		return false, nil
	}
	return video.IsAvailableFor(userID, e.now()), nil
}

// flightKey identifies one in-flight download.
type flightKey struct {
	userID  string
	videoID string
}

func (e *downloadEngine) acquire(userID, videoID string) bool {
	key := flightKey{userID: userID, videoID: videoID}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[key]; busy {
		return false
	}
	e.inFlight[key] = struct{}{}
	return true
}

func (e *downloadEngine) release(userID, videoID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, flightKey{userID: userID, videoID: videoID})
}

// snapshot mirrors progress to the progress cache. Failures are only logged.
func (e *downloadEngine) snapshot(ctx context.Context, video *model.OfflineVideo) {
	if e.progress == nil {
		return
	}
	err := e.progress.Set(ctx, video.UserID, &model.DownloadProgress{
		VideoID:  video.VideoID,
		Progress: video.Progress,
		Status:   video.Status,
	}, e.progressTTL)
	if err != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
		slog.Warn("failed to cache progress snapshot",
			"video_id", video.VideoID,
			"user_id", video.UserID,
			"error", err,
		)
		return
	}
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusSuccess, metrics.CacheTypeRedis).Inc()
}

func (e *downloadEngine) notify(ctx context.Context, typ repository.NotificationType, level, userID, videoID, title, description string) {
	sendNotification(ctx, e.notifier, repository.Notification{
		ID:          uuid.New(),
		Type:        typ,
		Level:       level,
		UserID:      userID,
		VideoID:     videoID,
		Title:       title,
		Description: description,
		OccurredAt:  e.now().UTC(),
	})
}

// sendNotification delivers n, logging instead of failing when the sink is down.
func sendNotification(ctx context.Context, notifier repository.Notifier, n repository.Notification) {
	if notifier == nil {
		return
	}
	if err := notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		slog.Warn("failed to send notification",
			"type", n.Type,
			"user_id", n.UserID,
			"error", err,
		)
	}
}

// cacheKeys returns the composite key and the bare URL key of a video payload.
func cacheKeys(video *model.OfflineVideo) []string {
	return []string{model.CompositeCacheKey(video.UserID, video.VideoID), video.VideoURL}
}

func displayTitle(title, videoID string) string {
	if title != "" {
		return title
	}
	return videoID
}
