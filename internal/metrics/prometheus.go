package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice capture service
type Metrics struct {
	// Frame pipeline metrics
	FramesReceived prometheus.Counter
	DecodeErrors   prometheus.Counter

	// Segmentation metrics
	UtterancesSegmented prometheus.Counter
	UtterancesDropped   prometheus.Counter // below the minimum byte floor
	UtteranceDuration   prometheus.Histogram
	UtteranceBytes      prometheus.Histogram

	// Session metrics
	ActiveSessions    prometheus.Gauge
	ActivePipelines   prometheus.Gauge
	PipelinesDisabled prometheus.Counter
	Recoveries        prometheus.Counter
	Stalls            prometheus.Counter

	// Dispatch metrics
	Dispatches            prometheus.Counter
	IntegratedSuccesses   prometheus.Counter
	FallbackDispatches    prometheus.Counter
	DroppedTranscriptions prometheus.Counter
	SinkPosts             prometheus.Counter
	StoreWrites           prometheus.Counter
	StoreFailures         prometheus.Counter
	TranscriptionDuration prometheus.Histogram

	// Observer metrics
	ConnectedObservers prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the given
// registerer. Pass prometheus.DefaultRegisterer in production; tests use a
// fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicemod_frames_received_total",
			Help: "Total number of audio frames received across all pipelines",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicemod_decode_errors_total",
			Help: "Total number of decode chain errors",
		}),

		UtterancesSegmented: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicemod_utterances_segmented_total",
			Help: "Total number of utterance boundaries emitted",
		}),
		UtterancesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicemod_utterances_dropped_total",
			Help: "Total number of utterances dropped below the minimum size floor",
		}),
		UtteranceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicemod_utterance_duration_seconds",
			Help:    "Duration of segmented utterances",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~2 minutes
		}),
		UtteranceBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicemod_utterance_size_bytes",
			Help:    "Size of segmented utterance audio payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicemod_active_sessions",
			Help: "Current number of active capture sessions",
		}),
		ActivePipelines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicemod_active_pipelines",
			Help: "Current number of active speaker pipelines",
		}),
		PipelinesDisabled: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicemod_pipelines_disabled_total",
			Help: "Total number of pipelines disabled after exhausting recovery attempts",
		}),
		Recoveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicemod_pipeline_recoveries_total",
			Help: "Total number of pipeline recovery cycles",
		}),
		Stalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicemod_pipeline_stalls_total",
			Help: "Total number of stalled pipelines detected by the watchdog",
		}),

		Dispatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicemod_dispatches_total",
			Help: "Total number of utterances handed to the dispatcher",
		}),
		IntegratedSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicemod_dispatch_integrated_successes_total",
			Help: "Total number of utterances transcribed and persisted in one unit",
		}),
		FallbackDispatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicemod_dispatch_fallbacks_total",
			Help: "Total number of dispatches that took the provider-only fallback path",
		}),
		DroppedTranscriptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicemod_transcriptions_dropped_total",
			Help: "Total number of utterances dropped after provider and fallback failure",
		}),
		SinkPosts: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicemod_sink_posts_total",
			Help: "Total number of transcripts posted to the result sink",
		}),
		StoreWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicemod_store_writes_total",
			Help: "Total number of utterances persisted to storage",
		}),
		StoreFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicemod_store_failures_total",
			Help: "Total number of storage write failures",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicemod_transcription_duration_seconds",
			Help:    "Duration of transcription provider requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		ConnectedObservers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicemod_connected_observers",
			Help: "Current number of websocket observers",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemod_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicemod_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemod_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordUtterance records one segmented utterance
func (m *Metrics) RecordUtterance(durationSeconds float64, sizeBytes int) {
	m.UtterancesSegmented.Inc()
	m.UtteranceDuration.Observe(durationSeconds)
	m.UtteranceBytes.Observe(float64(sizeBytes))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
