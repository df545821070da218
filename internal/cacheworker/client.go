package cacheworker

import (
	"context"
	"errors"

	"github.com/hszk-dev/offlinecache/internal/domain/repository"
)

// CacheVideo stores the file at filePath under every key.
func (w *Worker) CacheVideo(ctx context.Context, keys []string, filePath string, size int64, contentType string) error {
	resp, err := w.Send(ctx, TypeCacheVideo, CachePayload{
		Keys:        keys,
		FilePath:    filePath,
		Size:        size,
		ContentType: contentType,
	})
	return asError(string(TypeCacheVideo), resp, err)
}

// DeleteVideo removes every key. Missing keys are not an error.
func (w *Worker) DeleteVideo(ctx context.Context, keys ...string) error {
	resp, err := w.Send(ctx, TypeDeleteVideo, DeletePayload{Keys: keys})
	return asError(string(TypeDeleteVideo), resp, err)
}

// CheckCache reports whether key is cached.
func (w *Worker) CheckCache(ctx context.Context, key string) (bool, error) {
	resp, err := w.Send(ctx, TypeCheckCache, CheckPayload{Key: key})
	if err := asError(string(TypeCheckCache), resp, err); err != nil {
		return false, err
	}
	return resp.Cached, nil
}

// ClearAll removes the whole cache namespace and returns how many objects were removed.
func (w *Worker) ClearAll(ctx context.Context) (int, error) {
	resp, err := w.Send(ctx, TypeClearAll, nil)
	return resp.Removed, asError(string(TypeClearAll), resp, err)
}

// asError converts a failed response into a storage error.
func asError(op string, resp Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.Success {
		return repository.NewStorageError(op, errors.New(resp.Error))
	}
	return nil
}
