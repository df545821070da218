package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hszk-dev/offlinecache/internal/domain/repository"
)

// DefaultNamespace partitions offline video payloads from any other object in the bucket.
const DefaultNamespace = "lms-video-files-v1"

// objectReader abstracts minio.Object for testability.
// *minio.Object satisfies this interface.
type objectReader interface {
	io.ReadCloser
	Stat() (minio.ObjectInfo, error)
}

// minioClient defines the interface for MinIO operations.
// This abstraction allows for easier unit testing with mocks.
type minioClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// minioClientAdapter wraps *minio.Client to implement minioClient interface.
// This is necessary because *minio.Client.GetObject returns *minio.Object,
// but our interface returns objectReader for testability.
type minioClientAdapter struct {
	client *minio.Client
}

func (a *minioClientAdapter) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return a.client.BucketExists(ctx, bucketName)
}

func (a *minioClientAdapter) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return a.client.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
}

func (a *minioClientAdapter) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error) {
	return a.client.GetObject(ctx, bucketName, objectName, opts)
}

func (a *minioClientAdapter) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	return a.client.RemoveObject(ctx, bucketName, objectName, opts)
}

func (a *minioClientAdapter) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return a.client.StatObject(ctx, bucketName, objectName, opts)
}

func (a *minioClientAdapter) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	return a.client.ListObjects(ctx, bucketName, opts)
}

// ClientConfig holds configuration for the MinIO client.
type ClientConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Namespace string // Object name prefix owned by the cache; DefaultNamespace if empty
	UseSSL    bool
}

// Client wraps a MinIO client and implements repository.BinaryCache.
type Client struct {
	client    minioClient
	bucket    string
	namespace string
}

// Compile-time verification that Client implements repository.BinaryCache.
var _ repository.BinaryCache = (*Client)(nil)

// NewClient creates a new MinIO client.
// It verifies the bucket exists during initialization to fail fast on misconfiguration.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return newClientWithMinioClient(ctx, &minioClientAdapter{client: client}, cfg.Bucket, cfg.Namespace)
}

// newClientWithMinioClient creates a Client with a given minioClient implementation.
// This is used for dependency injection in tests.
func newClientWithMinioClient(ctx context.Context, client minioClient, bucket, namespace string) (*Client, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", repository.ErrBucketNotFound, bucket)
	}

	namespace = strings.Trim(namespace, "/")
	if namespace == "" {
		namespace = DefaultNamespace
	}

	return &Client{
		client:    client,
		bucket:    bucket,
		namespace: namespace,
	}, nil
}

// Put stores a payload under key.
func (c *Client) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := c.client.PutObject(ctx, c.bucket, c.objectName(key), reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return repository.NewStorageError("put object", err)
	}
	return nil
}

// Get retrieves a payload. Caller is responsible for closing the returned ReadCloser.
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, *repository.ObjectInfo, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, c.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, repository.NewStorageError("get object", err)
	}

	// GetObject returns a lazy reader that doesn't fail until read.
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close() // Best effort close on error path
		if isNoSuchKey(err) {
			return nil, nil, repository.ErrObjectNotFound
		}
		return nil, nil, repository.NewStorageError("stat object", err)
	}

	return obj, &repository.ObjectInfo{
		Key:          key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

// Exists checks if a payload is stored under key.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.client.StatObject(ctx, c.bucket, c.objectName(key), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, repository.NewStorageError("stat object", err)
	}
	return true, nil
}

// Delete removes a payload. S3 semantics make deleting a missing key a no-op.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.client.RemoveObject(ctx, c.bucket, c.objectName(key), minio.RemoveObjectOptions{}); err != nil {
		return repository.NewStorageError("delete object", err)
	}
	return nil
}

// DeleteAll removes every object under the cache namespace.
// Objects outside the namespace are never touched.
func (c *Client) DeleteAll(ctx context.Context) (int, error) {
	objects := c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    c.namespace + "/",
		Recursive: true,
	})

	var (
		removed int
		errs    []error
	)
	for obj := range objects {
		if obj.Err != nil {
			errs = append(errs, fmt.Errorf("list objects: %w", obj.Err))
			continue
		}
		if err := c.client.RemoveObject(ctx, c.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", obj.Key, err))
			continue
		}
		removed++
	}

	if len(errs) > 0 {
		return removed, repository.NewStorageError("delete all objects", errors.Join(errs...))
	}
	return removed, nil
}

// Ping verifies the MinIO connection is alive by checking bucket access.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to ping minio: %w", err)
	}
	return nil
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// objectName maps a cache key to an object name inside the namespace.
// Keys may be full URLs, so they are encoded to stay a single path segment.
func (c *Client) objectName(key string) string {
	return c.namespace + "/" + base64.RawURLEncoding.EncodeToString([]byte(key))
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
