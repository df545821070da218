package repository

import (
	"context"
	"io"
	"time"
)

// BinaryCache defines the durable store of video payloads.
// Implementations should be provided by the infrastructure layer (e.g., MinIO, S3).
// The cache has no concept of ownership; access control happens at the metadata layer.
type BinaryCache interface {
	// Put stores a payload under key. size may be -1 when unknown.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Get retrieves a payload.
	// Returns ErrObjectNotFound if the key is absent.
	// Caller is responsible for closing the returned ReadCloser.
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)

	// Exists checks if a payload is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes a payload. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteAll removes every payload in the cache namespace and returns how many were removed.
	DeleteAll(ctx context.Context) (int, error)
}

// ObjectInfo contains metadata about a stored payload.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}
