package repository

import (
	"context"
	"time"

	"github.com/hszk-dev/offlinecache/internal/domain/model"
)

// ClearResult reports the outcome of a best-effort multi-record delete.
type ClearResult struct {
	Total  int
	Failed int
}

// MetadataStore defines the durable store of per-user offline video metadata.
// Implementations should be provided by the infrastructure layer (e.g., PostgreSQL).
// I/O failures are returned as *StorageError.
type MetadataStore interface {
	// Put upserts a record keyed by (UserID, VideoID). Last write wins.
	Put(ctx context.Context, video *model.OfflineVideo) error

	// Get retrieves a user's record for a video.
	// Returns nil, nil if no record exists.
	Get(ctx context.Context, userID, videoID string) (*model.OfflineVideo, error)

	// GetByUser retrieves all records of a user, newest first.
	GetByUser(ctx context.Context, userID string) ([]*model.OfflineVideo, error)

	// GetExpired retrieves records of all users whose ExpiresAt is before the given instant.
	GetExpired(ctx context.Context, before time.Time) ([]*model.OfflineVideo, error)

	// GetExpiredByUser is GetExpired narrowed to a single user.
	GetExpiredByUser(ctx context.Context, userID string, before time.Time) ([]*model.OfflineVideo, error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, userID, videoID string) error

	// ClearByUser deletes every record of a user one by one.
	// It is best-effort: the result reports how many of Total deletes failed.
	ClearByUser(ctx context.Context, userID string) (ClearResult, error)
}
