// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chat_stt_gateway"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Transcription metrics
	TranscriptionsTotal  *prometheus.CounterVec
	TranscriptionLatency *prometheus.HistogramVec
	UploadBytes          prometheus.Counter
	TempFileErrors       *prometheus.CounterVec

	// Engine lifecycle metrics
	EngineState        *prometheus.GaugeVec
	EngineInitDuration prometheus.Histogram

	// Worker pool metrics
	WorkerQueued   prometheus.Gauge
	WorkerInFlight prometheus.Gauge

	// Relay metrics
	RelaySessionsActive  prometheus.Gauge
	RelaySessionsTotal   *prometheus.CounterVec
	RelaySessionDuration prometheus.Histogram
	RelayEvents          *prometheus.CounterVec
	UpstreamErrors       *prometheus.CounterVec

	// Event publish metrics
	PublishTotal   *prometheus.CounterVec
	PublishErrors  *prometheus.CounterVec
	PublishLatency *prometheus.HistogramVec

	// gRPC metrics
	GRPCCalls         *prometheus.CounterVec
	GRPCStreamsActive prometheus.Gauge
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates and registers all metrics on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled",
		}, []string{"route", "method", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"route", "method"}),

		TranscriptionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Total number of transcription requests by outcome",
		}, []string{"engine", "outcome"}),
		TranscriptionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_latency_seconds",
			Help:      "Engine transcription latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"engine"}),
		UploadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Total audio bytes received",
		}),
		TempFileErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "temp_file_errors_total",
			Help:      "Temp file write and cleanup failures",
		}, []string{"op"}),

		EngineState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_state",
			Help:      "Current inference engine lifecycle state (1 for the active state)",
		}, []string{"state"}),
		EngineInitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_init_duration_seconds",
			Help:      "Time spent initializing the inference engine",
			Buckets:   []float64{0.1, 1, 5, 10, 30, 60, 120, 300},
		}),

		WorkerQueued: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_queued",
			Help:      "Jobs waiting for a worker slot",
		}),
		WorkerInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_in_flight",
			Help:      "Jobs currently running on a worker",
		}),

		RelaySessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_sessions_active",
			Help:      "Number of currently active relay sessions",
		}),
		RelaySessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_sessions_total",
			Help:      "Total number of relay sessions by outcome",
		}, []string{"outcome"}),
		RelaySessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_session_duration_seconds",
			Help:      "Duration of relay sessions in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		RelayEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_events_total",
			Help:      "Total number of normalized events emitted by kind",
		}, []string{"kind"}),
		UpstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Conversational API failures by reason",
		}, []string{"reason"}),

		PublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Total number of events published",
		}, []string{"backend", "topic"}),
		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Total number of event publish errors",
		}, []string{"backend", "topic"}),
		PublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_latency_seconds",
			Help:      "Event publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"backend"}),

		GRPCCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls by method and code",
		}, []string{"method", "code"}),
		GRPCStreamsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grpc_streams_active",
			Help:      "Number of currently open gRPC streams",
		}),
	}
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(route, method string, code int, durationSeconds float64) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(durationSeconds)
}

// RecordTranscription records one engine call.
func (m *Metrics) RecordTranscription(engine string, err error, latencySeconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.TranscriptionsTotal.WithLabelValues(engine, outcome).Inc()
	m.TranscriptionLatency.WithLabelValues(engine).Observe(latencySeconds)
}

// RecordTranscriptionRejected records a request refused before reaching the engine.
func (m *Metrics) RecordTranscriptionRejected(engine, reason string) {
	m.TranscriptionsTotal.WithLabelValues(engine, reason).Inc()
}

// RecordUpload records audio bytes received.
func (m *Metrics) RecordUpload(bytes int64) {
	m.UploadBytes.Add(float64(bytes))
}

// RecordTempFileError records a temp file failure ("write" or "cleanup").
func (m *Metrics) RecordTempFileError(op string) {
	m.TempFileErrors.WithLabelValues(op).Inc()
}

// RecordEngineState marks state as the only active engine state.
func (m *Metrics) RecordEngineState(state string) {
	m.EngineState.Reset()
	m.EngineState.WithLabelValues(state).Set(1)
}

// RecordEngineInit records how long engine initialization took.
func (m *Metrics) RecordEngineInit(durationSeconds float64) {
	m.EngineInitDuration.Observe(durationSeconds)
}

// RecordRelaySessionStart records a new relay session.
func (m *Metrics) RecordRelaySessionStart() {
	m.RelaySessionsActive.Inc()
}

// RecordRelaySessionEnd records a relay session ending.
func (m *Metrics) RecordRelaySessionEnd(outcome string, durationSeconds float64) {
	m.RelaySessionsActive.Dec()
	m.RelaySessionsTotal.WithLabelValues(outcome).Inc()
	m.RelaySessionDuration.Observe(durationSeconds)
}

// RecordRelayEvent records one normalized event.
func (m *Metrics) RecordRelayEvent(kind string) {
	m.RelayEvents.WithLabelValues(kind).Inc()
}

// RecordUpstreamError records a conversational API failure.
func (m *Metrics) RecordUpstreamError(reason string) {
	m.UpstreamErrors.WithLabelValues(reason).Inc()
}

// RecordPublish records an event publish attempt.
func (m *Metrics) RecordPublish(backend, topic string, err error, latencySeconds float64) {
	m.PublishTotal.WithLabelValues(backend, topic).Inc()
	m.PublishLatency.WithLabelValues(backend).Observe(latencySeconds)
	if err != nil {
		m.PublishErrors.WithLabelValues(backend, topic).Inc()
	}
}

// RecordGRPCCall records a finished gRPC call.
func (m *Metrics) RecordGRPCCall(method, code string) {
	m.GRPCCalls.WithLabelValues(method, code).Inc()
}
