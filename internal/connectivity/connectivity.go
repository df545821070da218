// Package connectivity reports whether the network is reachable for new downloads.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Checker reports network availability.
type Checker interface {
	Online(ctx context.Context) bool
}

// Static is a Checker with a fixed answer.
type Static bool

// Online returns the fixed answer.
func (s Static) Online(context.Context) bool {
	return bool(s)
}

// ProberConfig holds configuration for the Prober.
type ProberConfig struct {
	URL      string        // Probed with HEAD; empty disables probing
	Interval time.Duration // How long a probe result is reused
	Timeout  time.Duration // Per-probe timeout
}

// Prober checks connectivity with a HEAD request and caches the answer for Interval.
type Prober struct {
	client   *http.Client
	url      string
	interval time.Duration
	now      func() time.Time
	group    singleflight.Group

	mu        sync.Mutex
	online    bool
	checkedAt time.Time
}

// NewProber creates a Prober.
func NewProber(cfg ProberConfig) *Prober {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Prober{
		client:   &http.Client{Timeout: timeout},
		url:      cfg.URL,
		interval: cfg.Interval,
		now:      time.Now,
	}
}

// Online reports whether the probe URL answered with a status below 500.
// With no probe URL configured the network is assumed online.
// Concurrent callers share one probe. A caller whose ctx ends first gets false,
// but the probe itself runs to completion under the client timeout.
func (p *Prober) Online(ctx context.Context) bool {
	if p.url == "" {
		return true
	}

	p.mu.Lock()
	if !p.checkedAt.IsZero() && p.now().Sub(p.checkedAt) < p.interval {
		online := p.online
		p.mu.Unlock()
		return online
	}
	p.mu.Unlock()

	ch := p.group.DoChan("probe", func() (any, error) {
		online := p.probe(context.WithoutCancel(ctx))
		p.mu.Lock()
		p.online, p.checkedAt = online, p.now()
		p.mu.Unlock()
		return online, nil
	})

	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		return false
	}
}

func (p *Prober) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		slog.Warn("invalid network probe url", "url", p.url, "error", err)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Info("network probe failed", "url", p.url, "error", err)
		return false
	}
	resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}
