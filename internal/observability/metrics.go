package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the bibliometric pipeline.
// All collectors are registered via promauto with the default registry, so
// NewMetrics must be called once per namespace. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// RunsStarted counts pipeline runs that passed validation and started.
	RunsStarted prometheus.Counter

	// RunsTotal counts finished pipeline runs, labeled by status (completed, failed).
	RunsTotal *prometheus.CounterVec

	// RunDuration observes the end-to-end duration of runs in seconds.
	RunDuration prometheus.Histogram

	// ActiveRuns tracks runs currently executing.
	ActiveRuns prometheus.Gauge

	// PhasesTotal counts executed phases, labeled by phase and status.
	PhasesTotal *prometheus.CounterVec

	// PhaseDuration observes phase duration in seconds, labeled by phase.
	PhaseDuration *prometheus.HistogramVec

	// ArticlesFound counts articles returned by searches, labeled by source.
	ArticlesFound *prometheus.CounterVec

	// SourceRequestsTotal counts HTTP requests to paper source APIs, labeled by source and status.
	SourceRequestsTotal *prometheus.CounterVec

	// LLMRequestsTotal counts LLM API requests, labeled by provider and status.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMRequestDuration observes LLM request duration in seconds, labeled by provider.
	LLMRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RunsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_started_total",
			Help:      "Total number of pipeline runs started",
		}),
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Total number of finished pipeline runs by status",
		}, []string{"status"}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
		}),
		ActiveRuns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Number of pipeline runs currently executing",
		}),
		PhasesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phases_total",
			Help:      "Total number of executed phases by phase and status",
		}, []string{"phase", "status"}),
		PhaseDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of pipeline phases in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800, 3600},
		}, []string{"phase"}),
		ArticlesFound: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_found_total",
			Help:      "Total number of articles returned by searches by source",
		}, []string{"source"}),
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of paper source API requests by source and status",
		}, []string{"source", "status"}),
		LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests by provider and status",
		}, []string{"provider", "status"}),
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of LLM requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 180},
		}, []string{"provider"}),
	}
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordRunStarted records the start of a pipeline run.
func (m *Metrics) RecordRunStarted() {
	if m == nil {
		return
	}
	m.RunsStarted.Inc()
	m.ActiveRuns.Inc()
}

// RecordRunFinished records the end of a pipeline run started with RecordRunStarted.
func (m *Metrics) RecordRunFinished(success bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := "completed"
	if !success {
		status = "failed"
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(duration.Seconds())
	m.ActiveRuns.Dec()
}

// RecordPhase records one executed phase.
func (m *Metrics) RecordPhase(phase string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.PhasesTotal.WithLabelValues(phase, statusLabel(success)).Inc()
	m.PhaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordArticlesFound records articles returned by a source search.
func (m *Metrics) RecordArticlesFound(source string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.ArticlesFound.WithLabelValues(source).Add(float64(count))
}

// RecordSourceRequest records an HTTP request to a paper source API.
func (m *Metrics) RecordSourceRequest(source string, success bool) {
	if m == nil {
		return
	}
	m.SourceRequestsTotal.WithLabelValues(source, statusLabel(success)).Inc()
}

// RecordLLMRequest records an LLM completion request.
func (m *Metrics) RecordLLMRequest(provider string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.LLMRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}
