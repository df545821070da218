// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "offlinecache"

var (
	// DownloadsTotal tracks download attempts by outcome.
	// Labels:
	//   - result: completed, failed, already_downloaded, in_flight, rejected
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Total number of offline download attempts",
		},
		[]string{"result"},
	)

	// DownloadedBytesTotal counts payload bytes received from the network.
	DownloadedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Total number of video bytes received",
		},
	)

	// DownloadDuration observes the wall time of completed downloads.
	DownloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Duration of successful offline downloads",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	// InFlightDownloads is the number of downloads currently streaming.
	InFlightDownloads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "downloads_in_flight",
			Help:      "Number of downloads currently in progress",
		},
	)

	// CacheOperationsTotal tracks cache operations.
	// Labels:
	//   - operation: get, set, delete, mark
	//   - status: hit, miss, success, error
	//   - cache_type: redis
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of cache operations",
		},
		[]string{"operation", "status", "cache_type"},
	)

	// DBQueriesTotal tracks database queries.
	// Labels:
	//   - query_type: select, upsert, delete
	//   - table: offline_videos
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_queries_total",
			Help:      "Total number of database queries",
		},
		[]string{"query_type", "table"},
	)

	// WorkerRequestsTotal tracks cache worker protocol requests.
	// Labels:
	//   - type: CACHE_VIDEO, DELETE_VIDEO, CHECK_CACHE, CLEAR_ALL
	//   - result: success, error, not_ready
	WorkerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_requests_total",
			Help:      "Total number of cache worker requests",
		},
		[]string{"type", "result"},
	)

	// SingleflightRequestsTotal tracks progress lookups coalesced by singleflight.
	// Labels:
	//   - result: initiated, shared
	SingleflightRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "singleflight_requests_total",
			Help:      "Total number of progress lookups by singleflight result",
		},
		[]string{"result"},
	)

	// HTTPRequestsTotal tracks API requests.
	// Labels:
	//   - method: HTTP method
	//   - route: chi route pattern
	//   - status: response status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes API latency by route.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// SweptVideosTotal counts expired videos handled by the sweeper.
	// Labels:
	//   - result: deleted, failed
	SweptVideosTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_videos_total",
			Help:      "Total number of expired offline videos processed by the sweeper",
		},
		[]string{"result"},
	)
)

// Download result constants.
const (
	DownloadCompleted         = "completed"
	DownloadFailed            = "failed"
	DownloadAlreadyDownloaded = "already_downloaded"
	DownloadInFlight          = "in_flight"
	DownloadRejected          = "rejected"
)

// Cache operation status constants.
const (
	CacheStatusHit     = "hit"
	CacheStatusMiss    = "miss"
	CacheStatusSuccess = "success"
	CacheStatusError   = "error"
)

// Cache operation type constants.
const (
	CacheOpGet    = "get"
	CacheOpSet    = "set"
	CacheOpDelete = "delete"
	CacheOpMark   = "mark"
)

// Cache type constants.
const (
	CacheTypeRedis = "redis"
)

// DB query type constants.
const (
	DBQuerySelect = "select"
	DBQueryUpsert = "upsert"
	DBQueryDelete = "delete"
)

// Table name constants.
const (
	TableOfflineVideos = "offline_videos"
)

// Worker request result constants.
const (
	WorkerResultSuccess  = "success"
	WorkerResultError    = "error"
	WorkerResultNotReady = "not_ready"
)

// Sweep result constants.
const (
	SweepDeleted = "deleted"
	SweepFailed  = "failed"
)

// Singleflight result constants.
const (
	SingleflightInitiated = "initiated"
	SingleflightShared    = "shared"
)
