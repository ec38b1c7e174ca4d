// Package metrics provides Prometheus metrics for sessions, connections and the API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sttbench"

// Metrics holds all Prometheus metrics of the process.
type Metrics struct {
	// Session metrics
	SessionsTotal  prometheus.Counter
	SessionsActive prometheus.Gauge

	// Connection metrics
	ConnectionStates   *prometheus.CounterVec
	ConnectionRestarts *prometheus.CounterVec
	ConnectionsStuck   *prometheus.CounterVec

	// Audio fan-out metrics
	FramesDispatched *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec

	// Transcript metrics
	TranscriptsPartial *prometheus.CounterVec
	TranscriptsFinal   *prometheus.CounterVec
	ProviderLatency    *prometheus.HistogramVec
	ProviderErrors     *prometheus.CounterVec

	// Admission metrics
	RateLimitDenied *prometheus.CounterVec

	// Evaluation metrics
	Similarity *prometheus.GaugeVec

	// Event sink metrics
	EventsPublished *prometheus.CounterVec
	EventsFailed    *prometheus.CounterVec
}

// Default is the process-wide instance registered with the default registry.
var Default = New(prometheus.DefaultRegisterer)

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of transcription sessions started",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently running sessions",
		}),
		ConnectionStates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_transitions_total",
			Help:      "Provider connection state transitions",
		}, []string{"provider", "state"}),
		ConnectionRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_restarts_total",
			Help:      "Restarts of failed provider connections",
		}, []string{"provider"}),
		ConnectionsStuck: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_abandoned_total",
			Help:      "Connections abandoned after the stop timeout",
		}, []string{"provider"}),
		FramesDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dispatched_total",
			Help:      "Audio frames handed to provider connections",
		}, []string{"provider"}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Audio frames dropped by a saturated or not-ready connection",
		}, []string{"provider", "reason"}),
		TranscriptsPartial: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Partial transcript events received",
		}, []string{"provider"}),
		TranscriptsFinal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Finalized transcript events received",
		}, []string{"provider"}),
		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Latency reported on finalized transcript events",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider"}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by error code",
		}, []string{"provider", "code"}),
		RateLimitDenied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_denied_total",
			Help:      "Requests denied by the rate limiter",
		}, []string{"class"}),
		Similarity: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "similarity_percent",
			Help:      "Most recent similarity score per provider",
		}, []string{"provider"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Transcript events written to the external sink",
		}, []string{"sink", "kind"}),
		EventsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_failed_total",
			Help:      "Transcript events the external sink rejected",
		}, []string{"sink", "kind"}),
	}
}

// RecordTranscript counts a transcript event and observes latency for finals.
func (m *Metrics) RecordTranscript(provider string, final bool, latency time.Duration) {
	if m == nil {
		return
	}
	if !final {
		m.TranscriptsPartial.WithLabelValues(provider).Inc()
		return
	}
	m.TranscriptsFinal.WithLabelValues(provider).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordPublish records the outcome of one sink write.
func (m *Metrics) RecordPublish(sink, kind string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.EventsFailed.WithLabelValues(sink, kind).Inc()
		return
	}
	m.EventsPublished.WithLabelValues(sink, kind).Inc()
}
