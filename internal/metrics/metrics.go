package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counter metrics (monotonically increasing)
var (
	// UploadsInitiatedTotal counts upload sessions created by init
	UploadsInitiatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamforge_uploads_initiated_total",
			Help: "Total number of upload sessions initiated",
		},
	)

	// UploadsTotal counts finished completion attempts by mode and status (success, failure)
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamforge_uploads_total",
			Help: "Total number of upload completions",
		},
		[]string{"mode", "status"},
	)

	// ChunksTotal counts received chunks by status (accepted, rejected)
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamforge_chunks_total",
			Help: "Total number of upload chunks received",
		},
		[]string{"status"},
	)

	// IntegrityFailuresTotal counts checksum mismatches by scope (chunk, file)
	IntegrityFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamforge_integrity_failures_total",
			Help: "Total number of checksum mismatches",
		},
		[]string{"scope"},
	)

	// WatermarkCacheTotal counts render cache lookups by kind (segment, export) and result (hit, miss)
	WatermarkCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamforge_watermark_cache_total",
			Help: "Total number of watermark render cache lookups",
		},
		[]string{"kind", "result"},
	)

	// WatermarkCodesCreatedTotal counts newly assigned watermark codes
	WatermarkCodesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamforge_watermark_codes_created_total",
			Help: "Total number of watermark codes assigned",
		},
	)

	// PlaybackFallbacksTotal counts segments served unwatermarked after a render I/O failure
	PlaybackFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamforge_playback_fallbacks_total",
			Help: "Total number of segments served without watermark due to render I/O errors",
		},
	)

	// TranscodeInvocationsTotal counts external tool runs by operation and outcome
	TranscodeInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamforge_transcode_invocations_total",
			Help: "Total number of external media tool invocations",
		},
		[]string{"op", "outcome"},
	)

	// PublishTotal counts HLS publish attempts by status
	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamforge_publish_total",
			Help: "Total number of HLS publish attempts",
		},
		[]string{"status"},
	)

	// SweptUploadsTotal counts uploads abandoned and cleaned up by the sweeper
	SweptUploadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamforge_swept_uploads_total",
			Help: "Total number of abandoned uploads cleaned up",
		},
	)

	// HTTPRequestsTotal counts total HTTP requests by method, path, and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamforge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ErrorsTotal counts application errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamforge_errors_total",
			Help: "Total number of application errors",
		},
		[]string{"type"},
	)
)

// Gauge metrics
var (
	// TranscodesRunning is the number of external tool processes currently running
	TranscodesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamforge_transcodes_running",
			Help: "Number of external media tool processes currently running",
		},
	)
)

// Histogram metrics (distributions)
var (
	// HTTPRequestDuration tracks HTTP request latency by method and path
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamforge_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// TranscodeDuration tracks external tool run time by operation
	TranscodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamforge_transcode_duration_seconds",
			Help:    "External media tool run time in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"op"},
	)

	// TranscodeQueueWait tracks how long invocations wait for a free slot
	TranscodeQueueWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamforge_transcode_queue_wait_seconds",
			Help:    "Time spent waiting for a transcode slot in seconds",
			Buckets: []float64{.001, .01, .1, .5, 1, 5, 10, 30, 60, 300},
		},
	)

	// ChunkSizeBytes tracks distribution of stored chunk sizes
	ChunkSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "streamforge_chunk_size_bytes",
			Help: "Distribution of stored chunk sizes in bytes",
			Buckets: []float64{
				1024,      // 1 KB
				102400,    // 100 KB
				1048576,   // 1 MB
				5242880,   // 5 MB
				10485760,  // 10 MB
				52428800,  // 50 MB
				104857600, // 100 MB
			},
		},
	)
)

// Health check metrics
var (
	// HealthStatus is a gauge representing current health status
	// Values: 0 = unhealthy, 1 = draining, 2 = healthy
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamforge_health_status",
			Help: "Current health status (0=unhealthy, 1=draining, 2=healthy)",
		},
	)

	// HealthChecksTotal counts total health check calls by status
	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamforge_health_checks_total",
			Help: "Total number of health checks performed",
		},
		[]string{"status"},
	)

	// HealthCheckDuration tracks how long health checks take
	HealthCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamforge_health_check_duration_seconds",
			Help:    "Health check duration in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)
)
