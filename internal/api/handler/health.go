package handler

import (
	"context"
	"net/http"
	"sync"
	"time"
)

type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// HealthHandler reports liveness and dependency readiness.
type HealthHandler struct {
	checks  map[string]Check
	timeout time.Duration
}

// NewHealthHandler creates a HealthHandler running checks with the given per-request timeout.
func NewHealthHandler(checks map[string]Check, timeout time.Duration) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: timeout}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		components = make(map[string]string, len(h.checks))
		healthy    = true
	)
	for name, check := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := "ok"
			if err := check(ctx); err != nil {
				status = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			components[name] = status
			if status != "ok" {
				healthy = false
			}
		}()
	}
	wg.Wait()

	if !healthy {
		JSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Components: components})
		return
	}
	JSON(w, http.StatusOK, HealthResponse{Status: "ok", Components: components})
}
