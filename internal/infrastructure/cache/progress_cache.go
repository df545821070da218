package cache

import (
	"context"
	"time"

	"github.com/hszk-dev/offlinecache/internal/domain/model"
)

// ProgressCache holds short-lived download progress snapshots and session markers.
// It is a read-through accelerator; the metadata store stays authoritative.
type ProgressCache interface {
	// Get retrieves the latest progress snapshot for a user's video.
	// Returns nil, nil if no snapshot is cached (cache miss).
	Get(ctx context.Context, userID, videoID string) (*model.DownloadProgress, error)

	// Set stores a progress snapshot with the specified TTL.
	Set(ctx context.Context, userID string, progress *model.DownloadProgress, ttl time.Duration) error

	// Delete removes a progress snapshot.
	// Returns nil if nothing was cached.
	Delete(ctx context.Context, userID, videoID string) error

	// MarkSession records that a session has started for a user.
	// It reports true only for the first call per (user, session) within ttl.
	MarkSession(ctx context.Context, userID, sessionID string, ttl time.Duration) (bool, error)

	// ClearSession removes a session marker so the next MarkSession reports true again.
	ClearSession(ctx context.Context, userID, sessionID string) error
}
