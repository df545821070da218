package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned when a prerequisite (identity, cache worker) is missing.
	// Operations failing with it perform no I/O.
	ErrNotReady = errors.New("offline cache not ready")

	// ErrOffline is returned when a new download is requested while the network is unavailable.
	ErrOffline = errors.New("network unavailable")

	// ErrAlreadyDownloaded signals that a video is already available offline.
	// It is informational and callers treat it as success.
	ErrAlreadyDownloaded = errors.New("video already downloaded")

	// ErrVideoNotFound is returned when no offline record exists for a video.
	ErrVideoNotFound = errors.New("offline video not found")

	// ErrObjectNotFound is returned when an object does not exist in storage.
	ErrObjectNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")
)

// StorageError wraps an I/O failure of a local store (metadata or binary cache).
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err, returning nil when err is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// NetworkError is returned when fetching a video fails, either with a non-success
// HTTP status or a transport error.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to fetch video %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("failed to fetch video %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
