package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/hszk-dev/offlinecache/internal/domain/repository"
)

// mockObjectReader implements objectReader interface for testing.
type mockObjectReader struct {
	readFunc  func(p []byte) (n int, err error)
	closeFunc func() error
	statFunc  func() (minio.ObjectInfo, error)
	data      []byte
	offset    int
	closed    bool
}

func (m *mockObjectReader) Read(p []byte) (n int, err error) {
	if m.readFunc != nil {
		return m.readFunc(p)
	}
	if m.offset >= len(m.data) {
		return 0, io.EOF
	}
	n = copy(p, m.data[m.offset:])
	m.offset += n
	return n, nil
}

func (m *mockObjectReader) Close() error {
	m.closed = true
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

func (m *mockObjectReader) Stat() (minio.ObjectInfo, error) {
	if m.statFunc != nil {
		return m.statFunc()
	}
	return minio.ObjectInfo{}, nil
}

// mockMinioClient implements minioClient interface for testing.
type mockMinioClient struct {
	bucketExistsFunc func(ctx context.Context, bucketName string) (bool, error)
	putObjectFunc    func(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	getObjectFunc    func(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error)
	removeObjectFunc func(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	statObjectFunc   func(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	listObjectsFunc  func(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

func (m *mockMinioClient) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	if m.bucketExistsFunc != nil {
		return m.bucketExistsFunc(ctx, bucketName)
	}
	return true, nil
}

func (m *mockMinioClient) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if m.putObjectFunc != nil {
		return m.putObjectFunc(ctx, bucketName, objectName, reader, objectSize, opts)
	}
	return minio.UploadInfo{}, nil
}

func (m *mockMinioClient) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error) {
	if m.getObjectFunc != nil {
		return m.getObjectFunc(ctx, bucketName, objectName, opts)
	}
	return nil, nil
}

func (m *mockMinioClient) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	if m.removeObjectFunc != nil {
		return m.removeObjectFunc(ctx, bucketName, objectName, opts)
	}
	return nil
}

func (m *mockMinioClient) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if m.statObjectFunc != nil {
		return m.statObjectFunc(ctx, bucketName, objectName, opts)
	}
	return minio.ObjectInfo{}, nil
}

func (m *mockMinioClient) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	if m.listObjectsFunc != nil {
		return m.listObjectsFunc(ctx, bucketName, opts)
	}
	ch := make(chan minio.ObjectInfo)
	close(ch)
	return ch
}

func noSuchKey() error {
	return minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}
}

func newTestClient(t *testing.T, m *mockMinioClient) *Client {
	t.Helper()
	c, err := newClientWithMinioClient(context.Background(), m, "test-bucket", "")
	if err != nil {
		t.Fatalf("newClientWithMinioClient() unexpected error = %v", err)
	}
	return c
}

func TestNewClientWithMinioClient(t *testing.T) {
	tests := []struct {
		name          string
		bucket        string
		namespace     string
		mockClient    *mockMinioClient
		wantNamespace string
		wantErr       error
	}{
		{
			name:          "default namespace",
			bucket:        "test-bucket",
			mockClient:    &mockMinioClient{},
			wantNamespace: DefaultNamespace,
		},
		{
			name:          "custom namespace is trimmed",
			bucket:        "test-bucket",
			namespace:     "/videos-v2/",
			mockClient:    &mockMinioClient{},
			wantNamespace: "videos-v2",
		},
		{
			name:   "bucket does not exist",
			bucket: "non-existent-bucket",
			mockClient: &mockMinioClient{
				bucketExistsFunc: func(ctx context.Context, bucketName string) (bool, error) {
					return false, nil
				},
			},
			wantErr: repository.ErrBucketNotFound,
		},
		{
			name:   "bucket check error",
			bucket: "test-bucket",
			mockClient: &mockMinioClient{
				bucketExistsFunc: func(ctx context.Context, bucketName string) (bool, error) {
					return false, errors.New("connection refused")
				},
			},
			wantErr: errors.New("failed to check bucket existence"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := newClientWithMinioClient(context.Background(), tt.mockClient, tt.bucket, tt.namespace)

			if tt.wantErr != nil {
				if err == nil {
					t.Fatal("newClientWithMinioClient() expected error, got nil")
				}
				if !errors.Is(err, tt.wantErr) && !strings.Contains(err.Error(), tt.wantErr.Error()) {
					t.Errorf("newClientWithMinioClient() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Fatalf("newClientWithMinioClient() unexpected error = %v", err)
			}
			if client.bucket != tt.bucket {
				t.Errorf("client.bucket = %v, want %v", client.bucket, tt.bucket)
			}
			if client.namespace != tt.wantNamespace {
				t.Errorf("client.namespace = %v, want %v", client.namespace, tt.wantNamespace)
			}
		})
	}
}

func TestClient_objectName(t *testing.T) {
	c := newTestClient(t, &mockMinioClient{})

	url := "https://cdn.example.com/course/lesson 1.mp4?token=a/b"
	name := c.objectName(url)

	if !strings.HasPrefix(name, DefaultNamespace+"/") {
		t.Errorf("objectName() = %q, want namespace prefix", name)
	}
	encoded := strings.TrimPrefix(name, DefaultNamespace+"/")
	if strings.Contains(encoded, "/") {
		t.Errorf("objectName() = %q, encoded key should be a single segment", name)
	}
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || string(decoded) != url {
		t.Errorf("objectName() does not round-trip: %q, %v", decoded, err)
	}
	if c.objectName("video-u1-v1") == c.objectName("video-u2-v1") {
		t.Error("objectName() should be distinct per key")
	}
}

func TestClient_Put(t *testing.T) {
	tests := []struct {
		name    string
		putErr  error
		wantErr bool
	}{
		{name: "successful put"},
		{name: "put error", putErr: errors.New("upload failed"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotName, gotType string
			var gotBody []byte
			var gotSize int64
			c := newTestClient(t, &mockMinioClient{
				putObjectFunc: func(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
					gotName = objectName
					gotSize = objectSize
					gotType = opts.ContentType
					gotBody, _ = io.ReadAll(reader)
					return minio.UploadInfo{}, tt.putErr
				},
			})

			err := c.Put(context.Background(), "video-u1-v1", bytes.NewReader([]byte("payload")), 7, "video/mp4")

			if tt.wantErr {
				var storageErr *repository.StorageError
				if !errors.As(err, &storageErr) {
					t.Errorf("Put() error = %v, want *StorageError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Put() unexpected error = %v", err)
			}
			if gotName != c.objectName("video-u1-v1") {
				t.Errorf("object name = %q, want %q", gotName, c.objectName("video-u1-v1"))
			}
			if gotSize != 7 || string(gotBody) != "payload" || gotType != "video/mp4" {
				t.Errorf("PutObject got size=%d body=%q type=%q", gotSize, gotBody, gotType)
			}
		})
	}
}

func TestClient_Get(t *testing.T) {
	modified := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name       string
		mockClient *mockMinioClient
		wantData   string
		wantErr    error
	}{
		{
			name: "successful get",
			mockClient: &mockMinioClient{
				getObjectFunc: func(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error) {
					return &mockObjectReader{
						data: []byte("video bytes"),
						statFunc: func() (minio.ObjectInfo, error) {
							return minio.ObjectInfo{Size: 11, ContentType: "video/mp4", LastModified: modified}, nil
						},
					}, nil
				},
			},
			wantData: "video bytes",
		},
		{
			name: "object not found",
			mockClient: &mockMinioClient{
				getObjectFunc: func(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error) {
					return &mockObjectReader{
						statFunc: func() (minio.ObjectInfo, error) {
							return minio.ObjectInfo{}, noSuchKey()
						},
					}, nil
				},
			},
			wantErr: repository.ErrObjectNotFound,
		},
		{
			name: "get object error",
			mockClient: &mockMinioClient{
				getObjectFunc: func(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error) {
					return nil, errors.New("network down")
				},
			},
			wantErr: errors.New("storage get object"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.mockClient)

			rc, info, err := c.Get(context.Background(), "https://cdn.example.com/a.mp4")

			if tt.wantErr != nil {
				if err == nil {
					t.Fatal("Get() expected error, got nil")
				}
				if !errors.Is(err, tt.wantErr) && !strings.Contains(err.Error(), tt.wantErr.Error()) {
					t.Errorf("Get() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get() unexpected error = %v", err)
			}
			defer rc.Close()

			data, _ := io.ReadAll(rc)
			if string(data) != tt.wantData {
				t.Errorf("Get() data = %q, want %q", data, tt.wantData)
			}
			if info.Size != 11 || info.ContentType != "video/mp4" || !info.LastModified.Equal(modified) {
				t.Errorf("Get() info = %+v", info)
			}
			if info.Key != "https://cdn.example.com/a.mp4" {
				t.Errorf("Get() info.Key = %q", info.Key)
			}
		})
	}
}

func TestClient_Get_ClosesReaderOnStatError(t *testing.T) {
	reader := &mockObjectReader{
		statFunc: func() (minio.ObjectInfo, error) {
			return minio.ObjectInfo{}, noSuchKey()
		},
	}
	c := newTestClient(t, &mockMinioClient{
		getObjectFunc: func(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error) {
			return reader, nil
		},
	})

	_, _, _ = c.Get(context.Background(), "k")

	if !reader.closed {
		t.Error("Get() should close the object reader when stat fails")
	}
}

func TestClient_Exists(t *testing.T) {
	tests := []struct {
		name    string
		statErr error
		want    bool
		wantErr bool
	}{
		{name: "exists", want: true},
		{name: "missing", statErr: noSuchKey(), want: false},
		{name: "stat error", statErr: errors.New("access denied"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &mockMinioClient{
				statObjectFunc: func(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
					return minio.ObjectInfo{}, tt.statErr
				},
			})

			got, err := c.Exists(context.Background(), "k")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Exists() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Exists() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClient_Delete(t *testing.T) {
	var removed string
	c := newTestClient(t, &mockMinioClient{
		removeObjectFunc: func(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
			removed = objectName
			return nil
		},
	})

	if err := c.Delete(context.Background(), "video-u1-v1"); err != nil {
		t.Fatalf("Delete() unexpected error = %v", err)
	}
	if removed != c.objectName("video-u1-v1") {
		t.Errorf("removed %q, want %q", removed, c.objectName("video-u1-v1"))
	}

	failing := newTestClient(t, &mockMinioClient{
		removeObjectFunc: func(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
			return errors.New("permission denied")
		},
	})
	if err := failing.Delete(context.Background(), "k"); err == nil {
		t.Error("Delete() expected error, got nil")
	}
}

func TestClient_DeleteAll(t *testing.T) {
	listed := []minio.ObjectInfo{
		{Key: DefaultNamespace + "/a"},
		{Key: DefaultNamespace + "/b"},
		{Key: DefaultNamespace + "/c"},
	}

	tests := []struct {
		name        string
		failKey     string
		listErr     bool
		wantRemoved int
		wantErr     bool
	}{
		{name: "removes every listed object", wantRemoved: 3},
		{name: "continues past a failed removal", failKey: DefaultNamespace + "/b", wantRemoved: 2, wantErr: true},
		{name: "list error is reported", listErr: true, wantRemoved: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPrefix string
			var gotRecursive bool
			c := newTestClient(t, &mockMinioClient{
				listObjectsFunc: func(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
					gotPrefix = opts.Prefix
					gotRecursive = opts.Recursive
					ch := make(chan minio.ObjectInfo, len(listed)+1)
					for _, o := range listed {
						ch <- o
					}
					if tt.listErr {
						ch <- minio.ObjectInfo{Err: errors.New("list interrupted")}
					}
					close(ch)
					return ch
				},
				removeObjectFunc: func(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
					if objectName == tt.failKey {
						return errors.New("remove failed")
					}
					return nil
				},
			})

			removed, err := c.DeleteAll(context.Background())

			if (err != nil) != tt.wantErr {
				t.Fatalf("DeleteAll() error = %v, wantErr %v", err, tt.wantErr)
			}
			if removed != tt.wantRemoved {
				t.Errorf("DeleteAll() removed = %d, want %d", removed, tt.wantRemoved)
			}
			if gotPrefix != DefaultNamespace+"/" {
				t.Errorf("ListObjects prefix = %q, want %q", gotPrefix, DefaultNamespace+"/")
			}
			if !gotRecursive {
				t.Error("ListObjects should be recursive")
			}
		})
	}
}

func TestClient_Ping(t *testing.T) {
	calls := 0
	c := newTestClient(t, &mockMinioClient{
		bucketExistsFunc: func(ctx context.Context, bucketName string) (bool, error) {
			calls++
			if calls > 1 {
				return false, errors.New("connection refused")
			}
			return true, nil
		},
	})

	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping() expected error, got nil")
	}
	if c.Bucket() != "test-bucket" {
		t.Errorf("Bucket() = %q, want %q", c.Bucket(), "test-bucket")
	}
}
