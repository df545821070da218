package model

import (
	"errors"
	"fmt"
	"time"
)

// Status represents the download state of an offline video.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusDownloaded  Status = "downloaded"
	StatusFailed      Status = "failed"

	// StatusIdle is reported for videos with no download record. It is never persisted.
	StatusIdle Status = "idle"
)

// ExpiryPeriod is how long a downloaded video stays available offline.
// It is fixed at creation and never renewed on access.
const ExpiryPeriod = 7 * 24 * time.Hour

// Valid status transitions within a single download attempt:
// downloading -> downloaded | failed
// A new attempt starts over with a fresh record.
var validTransitions = map[Status][]Status{
	StatusDownloading: {StatusDownloaded, StatusFailed},
	StatusDownloaded:  {},
	StatusFailed:      {},
}

func (s Status) IsValid() bool {
	switch s {
	case StatusDownloading, StatusDownloaded, StatusFailed:
		return true
	default:
		return false
	}
}

func (s Status) CanTransitionTo(next Status) bool {
	allowed, exists := validTransitions[s]
	if !exists {
		return false
	}
	for _, status := range allowed {
		if status == next {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// OfflineVideo is the per-user metadata record of a video cached for offline playback.
// There is at most one record per (UserID, VideoID).
type OfflineVideo struct {
	VideoID      string
	UserID       string
	VideoURL     string
	Title        string
	DownloadedAt time.Time
	ExpiresAt    time.Time
	Size         int64
	Progress     float64
	Status       Status
}

var (
	ErrEmptyVideoID      = errors.New("video ID cannot be empty")
	ErrEmptyUserID       = errors.New("user ID cannot be empty")
	ErrEmptyVideoURL     = errors.New("video URL cannot be empty")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTitleTooLong      = errors.New("title exceeds maximum length of 255 characters")
	ErrInvalidSize       = errors.New("size cannot be negative")
)

const maxTitleLength = 255

// NewOfflineVideo creates a record in downloading state with progress 0.
// Timestamps are kept at millisecond precision so ExpiresAt - DownloadedAt is exactly ExpiryPeriod
// after a round trip through storage.
func NewOfflineVideo(userID, videoID, videoURL, title string, now time.Time) (*OfflineVideo, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	if videoID == "" {
		return nil, ErrEmptyVideoID
	}
	if videoURL == "" {
		return nil, ErrEmptyVideoURL
	}
	if len(title) > maxTitleLength {
		return nil, ErrTitleTooLong
	}

	downloadedAt := now.UTC().Truncate(time.Millisecond)
	return &OfflineVideo{
		VideoID:      videoID,
		UserID:       userID,
		VideoURL:     videoURL,
		Title:        title,
		DownloadedAt: downloadedAt,
		ExpiresAt:    downloadedAt.Add(ExpiryPeriod),
		Progress:     0,
		Status:       StatusDownloading,
	}, nil
}

// SetProgress records download progress, clamped to [0,100].
// Lower values than the current one are ignored. Returns true if progress advanced.
func (v *OfflineVideo) SetProgress(progress float64) bool {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress <= v.Progress {
		return false
	}
	v.Progress = progress
	return true
}

// MarkDownloaded finalizes a successful download.
func (v *OfflineVideo) MarkDownloaded(size int64) error {
	if size < 0 {
		return ErrInvalidSize
	}
	if !v.Status.CanTransitionTo(StatusDownloaded) {
		return ErrInvalidTransition
	}
	v.Status = StatusDownloaded
	v.Progress = 100
	v.Size = size
	return nil
}

// MarkFailed finalizes a failed download, leaving progress as last recorded.
func (v *OfflineVideo) MarkFailed() error {
	if !v.Status.CanTransitionTo(StatusFailed) {
		return ErrInvalidTransition
	}
	v.Status = StatusFailed
	return nil
}

// IsExpired reports whether the offline window has closed at the given instant.
func (v *OfflineVideo) IsExpired(now time.Time) bool {
	return !v.ExpiresAt.After(now)
}

// IsAvailableFor returns true if the video can be played offline by userID at now.
func (v *OfflineVideo) IsAvailableFor(userID string, now time.Time) bool {
	if v.UserID != userID {
		return false
	}
	if v.Status != StatusDownloaded {
		return false
	}
	return !v.IsExpired(now)
}

// CompositeCacheKey returns the user-scoped binary cache key of a video payload.
func CompositeCacheKey(userID, videoID string) string {
	return fmt.Sprintf("video-%s-%s", userID, videoID)
}

// DownloadProgress is the progress view of a single video for the UI.
type DownloadProgress struct {
	VideoID  string
	Progress float64
	Status   Status
}

// StorageStats summarizes a user's offline library.
type StorageStats struct {
	TotalVideos   int
	TotalSize     int64
	ExpiredVideos int
}

// ComputeStorageStats aggregates the given records at instant now.
func ComputeStorageStats(videos []*OfflineVideo, now time.Time) StorageStats {
	var stats StorageStats
	for _, v := range videos {
		stats.TotalVideos++
		stats.TotalSize += v.Size
		if v.IsExpired(now) {
			stats.ExpiredVideos++
		}
	}
	return stats
}
