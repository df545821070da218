// Package cacheworker serializes all access to the binary cache through a single
// owning goroutine. Callers exchange correlated request/response messages with it.
package cacheworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/hszk-dev/offlinecache/internal/domain/repository"
	"github.com/hszk-dev/offlinecache/internal/infrastructure/metrics"
)

// RequestType tags a message sent to the cache worker.
type RequestType string

const (
	TypeCacheVideo  RequestType = "CACHE_VIDEO"
	TypeDeleteVideo RequestType = "DELETE_VIDEO"
	TypeCheckCache  RequestType = "CHECK_CACHE"
	TypeClearAll    RequestType = "CLEAR_ALL"
)

// CachePayload asks the worker to store the file at FilePath under every key.
type CachePayload struct {
	Keys        []string
	FilePath    string
	Size        int64
	ContentType string
}

// DeletePayload asks the worker to remove every key.
type DeletePayload struct {
	Keys []string
}

// CheckPayload asks whether a key is cached.
type CheckPayload struct {
	Key string
}

// Request is a single message to the worker. Each request gets its own reply channel.
type Request struct {
	ID      uuid.UUID
	Type    RequestType
	Payload any

	ctx   context.Context
	reply chan Response
}

// Response answers exactly one Request, matched by ID.
type Response struct {
	ID      uuid.UUID
	Success bool
	Cached  bool
	Removed int
	Message string
	Error   string
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// Worker owns a repository.BinaryCache. It is not restartable once stopped.
type Worker struct {
	cache repository.BinaryCache

	mu       sync.RWMutex
	state    state
	requests chan *Request
	done     chan struct{}
	stopped  chan struct{}
}

// New creates a worker. It rejects requests until Start is called.
func New(cache repository.BinaryCache) *Worker {
	return &Worker{
		cache:    cache,
		requests: make(chan *Request),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the owning goroutine. The worker stops when ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.state != stateIdle {
		w.mu.Unlock()
		return
	}
	w.state = stateRunning
	w.mu.Unlock()

	go w.loop()
	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.done:
		}
	}()

	slog.Info("cache worker started")
}

// Stop stops accepting requests and waits for the request in progress to be answered.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.state != stateRunning {
		w.mu.Unlock()
		return
	}
	w.state = stateStopped
	close(w.done)
	w.mu.Unlock()

	<-w.stopped
	slog.Info("cache worker stopped")
}

// Ready reports whether the worker accepts requests.
func (w *Worker) Ready() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state == stateRunning
}

// Send delivers a request and waits for its response.
// It fails immediately with repository.ErrNotReady if the worker is not running.
func (w *Worker) Send(ctx context.Context, typ RequestType, payload any) (Response, error) {
	if !w.Ready() {
		metrics.WorkerRequestsTotal.WithLabelValues(string(typ), metrics.WorkerResultNotReady).Inc()
		return Response{}, repository.ErrNotReady
	}

	req := &Request{
		ID:      uuid.New(),
		Type:    typ,
		Payload: payload,
		ctx:     ctx,
		reply:   make(chan Response, 1),
	}

	select {
	case w.requests <- req:
	case <-w.done:
		metrics.WorkerRequestsTotal.WithLabelValues(string(typ), metrics.WorkerResultNotReady).Inc()
		return Response{}, repository.ErrNotReady
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		result := metrics.WorkerResultSuccess
		if !resp.Success {
			result = metrics.WorkerResultError
		}
		metrics.WorkerRequestsTotal.WithLabelValues(string(typ), result).Inc()
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (w *Worker) loop() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			return
		case req := <-w.requests:
			resp := w.handle(req)
			resp.ID = req.ID
			req.reply <- resp
		}
	}
}

func (w *Worker) handle(req *Request) Response {
	ctx := req.ctx
	switch req.Type {
	case TypeCacheVideo:
		p, ok := req.Payload.(CachePayload)
		if !ok {
			return badPayload(req)
		}
		if err := w.cacheVideo(ctx, p); err != nil {
			return failure(err)
		}
		return Response{Success: true, Message: fmt.Sprintf("cached under %d key(s)", len(p.Keys))}

	case TypeDeleteVideo:
		p, ok := req.Payload.(DeletePayload)
		if !ok {
			return badPayload(req)
		}
		var errs []error
		for _, key := range p.Keys {
			if err := w.cache.Delete(ctx, key); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return failure(err)
		}
		return Response{Success: true}

	case TypeCheckCache:
		p, ok := req.Payload.(CheckPayload)
		if !ok {
			return badPayload(req)
		}
		cached, err := w.cache.Exists(ctx, p.Key)
		if err != nil {
			return failure(err)
		}
		return Response{Success: true, Cached: cached}

	case TypeClearAll:
		removed, err := w.cache.DeleteAll(ctx)
		if err != nil {
			resp := failure(err)
			resp.Removed = removed
			return resp
		}
		return Response{Success: true, Removed: removed, Message: fmt.Sprintf("removed %d object(s)", removed)}

	default:
		return Response{Error: fmt.Sprintf("unknown request type %q", req.Type)}
	}
}

// cacheVideo writes the file under each key in order.
// If a later write fails, keys already written are removed again, even when ctx is cancelled.
func (w *Worker) cacheVideo(ctx context.Context, p CachePayload) error {
	written := make([]string, 0, len(p.Keys))
	for _, key := range p.Keys {
		if err := w.putFile(ctx, key, p); err != nil {
			rollbackCtx := context.WithoutCancel(ctx)
			for _, done := range written {
				if delErr := w.cache.Delete(rollbackCtx, done); delErr != nil {
					slog.Warn("failed to roll back cached payload",
						"key", done,
						"error", delErr,
					)
				}
			}
			return err
		}
		written = append(written, key)
	}
	return nil
}

func (w *Worker) putFile(ctx context.Context, key string, p CachePayload) error {
	f, err := os.Open(p.FilePath)
	if err != nil {
		return fmt.Errorf("open payload: %w", err)
	}
	defer f.Close()

	return w.cache.Put(ctx, key, f, p.Size, p.ContentType)
}

func badPayload(req *Request) Response {
	return Response{Error: fmt.Sprintf("invalid payload %T for %s", req.Payload, req.Type)}
}

func failure(err error) Response {
	return Response{Error: err.Error()}
}
