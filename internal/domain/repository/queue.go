package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DownloadTask is a request to download a video for offline use.
type DownloadTask struct {
	VideoID     string    `json:"video_id"`
	VideoURL    string    `json:"video_url"`
	Title       string    `json:"title"`
	UserID      string    `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// TaskQueue defines the interface for download task dispatch.
// Implementations should be provided by the infrastructure layer (e.g., RabbitMQ).
type TaskQueue interface {
	// PublishDownloadTask sends a download task to the queue.
	// Used by the API server.
	PublishDownloadTask(ctx context.Context, task DownloadTask) error

	// ConsumeDownloadTasks calls handler for each received task until ctx is cancelled.
	// Used by the worker service.
	ConsumeDownloadTasks(ctx context.Context, handler func(task DownloadTask) error) error

	// Close gracefully closes the connection to the message queue.
	Close() error
}

// NotificationType identifies a user-visible event of the offline cache.
type NotificationType string

const (
	NotificationDownloadStarted   NotificationType = "download_started"
	NotificationDownloadCompleted NotificationType = "download_completed"
	NotificationDownloadFailed    NotificationType = "download_failed"
	NotificationAlreadyDownloaded NotificationType = "already_downloaded"
	NotificationVideoDeleted      NotificationType = "video_deleted"
	NotificationDeleteFailed      NotificationType = "delete_failed"
	NotificationVideosCleared     NotificationType = "videos_cleared"
	NotificationExpiredRemoved    NotificationType = "expired_removed"
)

// Notification levels.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Notification is a human-readable event delivered to the user's notification sink.
type Notification struct {
	ID          uuid.UUID        `json:"id"`
	Type        NotificationType `json:"type"`
	Level       string           `json:"level"`
	UserID      string           `json:"user_id"`
	VideoID     string           `json:"video_id,omitempty"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Count       int              `json:"count,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

// Notifier delivers notifications to the UI layer.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
