package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hszk-dev/offlinecache/internal/domain/model"
	"github.com/hszk-dev/offlinecache/internal/domain/repository"
	"github.com/hszk-dev/offlinecache/internal/infrastructure/metrics"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is an interface that abstracts pgxpool.Pool and pgx.Tx for testability.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectColumns = `user_id, video_id, video_url, title, downloaded_at, expires_at, size, progress, status`

// MetadataStore implements repository.MetadataStore using PostgreSQL.
type MetadataStore struct {
	db DBTX
}

// NewMetadataStore creates a new MetadataStore instance.
func NewMetadataStore(db DBTX) *MetadataStore {
	return &MetadataStore{db: db}
}

// EnsureSchema creates the offline_videos table and its indexes if they do not exist.
func (s *MetadataStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return repository.NewStorageError("ensure schema", err)
	}
	return nil
}

// Put upserts a record keyed by (user_id, video_id).
func (s *MetadataStore) Put(ctx context.Context, video *model.OfflineVideo) error {
	const query = `
		INSERT INTO offline_videos (user_id, video_id, video_url, title, downloaded_at, expires_at, size, progress, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, video_id) DO UPDATE
		SET video_url = EXCLUDED.video_url,
			title = EXCLUDED.title,
			downloaded_at = EXCLUDED.downloaded_at,
			expires_at = EXCLUDED.expires_at,
			size = EXCLUDED.size,
			progress = EXCLUDED.progress,
			status = EXCLUDED.status
	`

	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQueryUpsert, metrics.TableOfflineVideos).Inc()

	_, err := s.db.Exec(ctx, query,
		video.UserID,
		video.VideoID,
		video.VideoURL,
		video.Title,
		video.DownloadedAt,
		video.ExpiresAt,
		nullSize(video),
		video.Progress,
		video.Status.String(),
	)
	if err != nil {
		return repository.NewStorageError("put metadata", err)
	}

	return nil
}

// Get retrieves a user's record for a video. Returns nil, nil when absent.
func (s *MetadataStore) Get(ctx context.Context, userID, videoID string) (*model.OfflineVideo, error) {
	const query = `
		SELECT ` + selectColumns + `
		FROM offline_videos
		WHERE user_id = $1 AND video_id = $2
	`

	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQuerySelect, metrics.TableOfflineVideos).Inc()

	video, err := scanVideo(s.db.QueryRow(ctx, query, userID, videoID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, repository.NewStorageError("get metadata", err)
	}

	return video, nil
}

// GetByUser retrieves all records of a user, newest first.
func (s *MetadataStore) GetByUser(ctx context.Context, userID string) ([]*model.OfflineVideo, error) {
	const query = `
		SELECT ` + selectColumns + `
		FROM offline_videos
		WHERE user_id = $1
		ORDER BY downloaded_at DESC
	`

	return s.queryVideos(ctx, "get metadata by user", query, userID)
}

// GetExpired retrieves records of all users that expired before the given instant.
func (s *MetadataStore) GetExpired(ctx context.Context, before time.Time) ([]*model.OfflineVideo, error) {
	const query = `
		SELECT ` + selectColumns + `
		FROM offline_videos
		WHERE expires_at < $1
	`

	return s.queryVideos(ctx, "get expired metadata", query, before)
}

// GetExpiredByUser retrieves a single user's records that expired before the given instant.
func (s *MetadataStore) GetExpiredByUser(ctx context.Context, userID string, before time.Time) ([]*model.OfflineVideo, error) {
	const query = `
		SELECT ` + selectColumns + `
		FROM offline_videos
		WHERE user_id = $1 AND expires_at < $2
	`

	return s.queryVideos(ctx, "get expired metadata by user", query, userID, before)
}

// Delete removes a record. Missing records are ignored.
func (s *MetadataStore) Delete(ctx context.Context, userID, videoID string) error {
	const query = `DELETE FROM offline_videos WHERE user_id = $1 AND video_id = $2`

	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQueryDelete, metrics.TableOfflineVideos).Inc()

	if _, err := s.db.Exec(ctx, query, userID, videoID); err != nil {
		return repository.NewStorageError("delete metadata", err)
	}
	return nil
}

// ClearByUser deletes a user's records one at a time, counting failures.
// A failed delete does not stop the remaining ones.
func (s *MetadataStore) ClearByUser(ctx context.Context, userID string) (repository.ClearResult, error) {
	videos, err := s.GetByUser(ctx, userID)
	if err != nil {
		return repository.ClearResult{}, err
	}

	result := repository.ClearResult{Total: len(videos)}
	var errs []error
	for _, v := range videos {
		if err := s.Delete(ctx, userID, v.VideoID); err != nil {
			result.Failed++
			errs = append(errs, err)
		}
	}

	if result.Failed > 0 {
		return result, repository.NewStorageError(
			"clear metadata",
			fmt.Errorf("%d of %d deletes failed: %w", result.Failed, result.Total, errors.Join(errs...)),
		)
	}
	return result, nil
}

func (s *MetadataStore) queryVideos(ctx context.Context, op, query string, args ...any) ([]*model.OfflineVideo, error) {
	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQuerySelect, metrics.TableOfflineVideos).Inc()

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, repository.NewStorageError(op, err)
	}
	defer rows.Close()

	videos := make([]*model.OfflineVideo, 0)
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, repository.NewStorageError(op, fmt.Errorf("scan: %w", err))
		}
		videos = append(videos, video)
	}

	if err := rows.Err(); err != nil {
		return nil, repository.NewStorageError(op, err)
	}

	return videos, nil
}

// scanVideo scans a single row into an OfflineVideo. pgx.Rows satisfies pgx.Row.
func scanVideo(row pgx.Row) (*model.OfflineVideo, error) {
	var (
		video  model.OfflineVideo
		size   *int64
		status string
	)

	err := row.Scan(
		&video.UserID,
		&video.VideoID,
		&video.VideoURL,
		&video.Title,
		&video.DownloadedAt,
		&video.ExpiresAt,
		&size,
		&video.Progress,
		&status,
	)
	if err != nil {
		return nil, err
	}

	video.Status = model.Status(status)
	if size != nil {
		video.Size = *size
	}

	return &video, nil
}

// nullSize stores size only for completed downloads.
func nullSize(video *model.OfflineVideo) *int64 {
	if video.Status != model.StatusDownloaded {
		return nil
	}
	size := video.Size
	return &size
}

// Compile-time verification that MetadataStore implements repository.MetadataStore.
var _ repository.MetadataStore = (*MetadataStore)(nil)
