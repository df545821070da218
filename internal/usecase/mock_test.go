package usecase

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/hszk-dev/offlinecache/internal/domain/model"
	"github.com/hszk-dev/offlinecache/internal/domain/repository"
)

// memoryMetadataStore is an in-memory MetadataStore with optional failure hooks.
type memoryMetadataStore struct {
	mu      sync.Mutex
	records map[string]model.OfflineVideo
	puts    []model.OfflineVideo

	putFn    func(video *model.OfflineVideo) error
	getFn    func(userID, videoID string) error
	deleteFn func(userID, videoID string) error
}

func newMemoryMetadataStore() *memoryMetadataStore {
	return &memoryMetadataStore{records: make(map[string]model.OfflineVideo)}
}

func (m *memoryMetadataStore) Put(ctx context.Context, video *model.OfflineVideo) error {
	if m.putFn != nil {
		if err := m.putFn(video); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[model.CompositeCacheKey(video.UserID, video.VideoID)] = *video
	m.puts = append(m.puts, *video)
	return nil
}

func (m *memoryMetadataStore) Get(ctx context.Context, userID, videoID string) (*model.OfflineVideo, error) {
	if m.getFn != nil {
		if err := m.getFn(userID, videoID); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.records[model.CompositeCacheKey(userID, videoID)]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *memoryMetadataStore) GetByUser(ctx context.Context, userID string) ([]*model.OfflineVideo, error) {
	return m.filter(func(v model.OfflineVideo) bool { return v.UserID == userID }), nil
}

func (m *memoryMetadataStore) GetExpired(ctx context.Context, before time.Time) ([]*model.OfflineVideo, error) {
	return m.filter(func(v model.OfflineVideo) bool { return v.ExpiresAt.Before(before) }), nil
}

func (m *memoryMetadataStore) GetExpiredByUser(ctx context.Context, userID string, before time.Time) ([]*model.OfflineVideo, error) {
	return m.filter(func(v model.OfflineVideo) bool { return v.UserID == userID && v.ExpiresAt.Before(before) }), nil
}

func (m *memoryMetadataStore) Delete(ctx context.Context, userID, videoID string) error {
	if m.deleteFn != nil {
		if err := m.deleteFn(userID, videoID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, model.CompositeCacheKey(userID, videoID))
	return nil
}

func (m *memoryMetadataStore) ClearByUser(ctx context.Context, userID string) (repository.ClearResult, error) {
	videos, _ := m.GetByUser(ctx, userID)
	var result repository.ClearResult
	for _, v := range videos {
		result.Total++
		if err := m.Delete(ctx, v.UserID, v.VideoID); err != nil {
			result.Failed++
		}
	}
	if result.Failed > 0 {
		return result, repository.NewStorageError("clear by user", io.ErrUnexpectedEOF)
	}
	return result, nil
}

func (m *memoryMetadataStore) filter(keep func(v model.OfflineVideo) bool) []*model.OfflineVideo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.OfflineVideo, 0)
	for _, v := range m.records {
		if keep(v) {
			v := v
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VideoID < out[j].VideoID })
	return out
}

func (m *memoryMetadataStore) record(userID, videoID string) (model.OfflineVideo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.records[model.CompositeCacheKey(userID, videoID)]
	return v, ok
}

func (m *memoryMetadataStore) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.puts)
}

// memoryBinaryCache is an in-memory BinaryCache.
type memoryBinaryCache struct {
	mu      sync.Mutex
	objects map[string][]byte
	putFn   func(key string) error
	delFn   func(key string) error
}

func newMemoryBinaryCache() *memoryBinaryCache {
	return &memoryBinaryCache{objects: make(map[string][]byte)}
}

func (m *memoryBinaryCache) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	if m.putFn != nil {
		if err := m.putFn(key); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryBinaryCache) Get(ctx context.Context, key string) (io.ReadCloser, *repository.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, nil, repository.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), &repository.ObjectInfo{Key: key, Size: int64(len(data)), ContentType: "video/mp4"}, nil
}

func (m *memoryBinaryCache) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memoryBinaryCache) Delete(ctx context.Context, key string) error {
	if m.delFn != nil {
		if err := m.delFn(key); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryBinaryCache) DeleteAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.objects)
	m.objects = make(map[string][]byte)
	return n, nil
}

func (m *memoryBinaryCache) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *memoryBinaryCache) payload(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[key]
}

// mockNotifier records notifications.
type mockNotifier struct {
	mu   sync.Mutex
	sent []repository.Notification
	err  error
}

func (m *mockNotifier) Notify(ctx context.Context, n repository.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return m.err
}

func (m *mockNotifier) types() []repository.NotificationType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repository.NotificationType, 0, len(m.sent))
	for _, n := range m.sent {
		out = append(out, n.Type)
	}
	return out
}

func (m *mockNotifier) last() repository.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return repository.Notification{}
	}
	return m.sent[len(m.sent)-1]
}

// mockProgressCache provides a configurable in-memory ProgressCache.
type mockProgressCache struct {
	mu        sync.Mutex
	snapshots map[string]model.DownloadProgress
	sessions  map[string]bool

	getFn   func(userID, videoID string) (*model.DownloadProgress, error)
	setFn   func(userID string, p *model.DownloadProgress) error
	markFn  func(userID, sessionID string) (bool, error)
	clearFn func(userID, sessionID string) error
}

func newMockProgressCache() *mockProgressCache {
	return &mockProgressCache{
		snapshots: make(map[string]model.DownloadProgress),
		sessions:  make(map[string]bool),
	}
}

func (m *mockProgressCache) Get(ctx context.Context, userID, videoID string) (*model.DownloadProgress, error) {
	if m.getFn != nil {
		return m.getFn(userID, videoID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.snapshots[userID+":"+videoID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *mockProgressCache) Set(ctx context.Context, userID string, p *model.DownloadProgress, ttl time.Duration) error {
	if m.setFn != nil {
		if err := m.setFn(userID, p); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[userID+":"+p.VideoID] = *p
	return nil
}

func (m *mockProgressCache) Delete(ctx context.Context, userID, videoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, userID+":"+videoID)
	return nil
}

func (m *mockProgressCache) MarkSession(ctx context.Context, userID, sessionID string, ttl time.Duration) (bool, error) {
	if m.markFn != nil {
		return m.markFn(userID, sessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + ":" + sessionID
	if m.sessions[key] {
		return false, nil
	}
	m.sessions[key] = true
	return true, nil
}

func (m *mockProgressCache) ClearSession(ctx context.Context, userID, sessionID string) error {
	if m.clearFn != nil {
		if err := m.clearFn(userID, sessionID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID+":"+sessionID)
	return nil
}

func (m *mockProgressCache) snapshot(userID, videoID string) (model.DownloadProgress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.snapshots[userID+":"+videoID]
	return p, ok
}

// mockTaskQueue provides a configurable mock for TaskQueue.
type mockTaskQueue struct {
	publishFn func(ctx context.Context, task repository.DownloadTask) error
	published []repository.DownloadTask
}

func (m *mockTaskQueue) PublishDownloadTask(ctx context.Context, task repository.DownloadTask) error {
	if m.publishFn != nil {
		if err := m.publishFn(ctx, task); err != nil {
			return err
		}
	}
	m.published = append(m.published, task)
	return nil
}

func (m *mockTaskQueue) ConsumeDownloadTasks(ctx context.Context, handler func(task repository.DownloadTask) error) error {
	return nil
}

func (m *mockTaskQueue) Close() error {
	return nil
}

// mockDownloadEngine provides a configurable mock for DownloadEngine.
type mockDownloadEngine struct {
	downloadFn           func(ctx context.Context, input DownloadInput, onProgress ProgressFunc) error
	deleteFn             func(ctx context.Context, videoID, videoURL, userID string) error
	isAvailableOfflineFn func(ctx context.Context, videoID, userID string) (bool, error)
}

func (m *mockDownloadEngine) Download(ctx context.Context, input DownloadInput, onProgress ProgressFunc) error {
	if m.downloadFn != nil {
		return m.downloadFn(ctx, input, onProgress)
	}
	return nil
}

func (m *mockDownloadEngine) Delete(ctx context.Context, videoID, videoURL, userID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, videoID, videoURL, userID)
	}
	return nil
}

func (m *mockDownloadEngine) IsAvailableOffline(ctx context.Context, videoID, userID string) (bool, error) {
	if m.isAvailableOfflineFn != nil {
		return m.isAvailableOfflineFn(ctx, videoID, userID)
	}
	return false, nil
}

// mockSweeper provides a configurable mock for Sweeper.
type mockSweeper struct {
	sweepUserFn func(ctx context.Context, userID string) (SweepResult, error)
	calls       int
}

func (m *mockSweeper) SweepUser(ctx context.Context, userID string) (SweepResult, error) {
	m.calls++
	if m.sweepUserFn != nil {
		return m.sweepUserFn(ctx, userID)
	}
	return SweepResult{}, nil
}

func (m *mockSweeper) SweepAll(ctx context.Context) (SweepResult, error) {
	return SweepResult{}, nil
}
