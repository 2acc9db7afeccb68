package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for waivern.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Artifact metrics
	artifactsExecuted *prometheus.CounterVec
	artifactDuration  *prometheus.HistogramVec
	artifactsRunning  prometheus.Gauge

	// Component metrics
	componentCalls    *prometheus.CounterVec
	componentDuration *prometheus.HistogramVec
	componentErrors   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeRuns     prometheus.Gauge
	queuedArtifacts prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"user"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		artifactsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_total",
				Help:      "Total number of artifacts executed, by kind and terminal status",
			},
			[]string{"kind", "status"},
		),
		artifactDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "artifact_duration_seconds",
				Help:      "Duration of artifact execution in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),
		artifactsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "artifacts_running",
				Help:      "Current number of artifacts being executed across all runs",
			},
		),

		componentCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "component_calls_total",
				Help:      "Total number of component calls (Extract/Process)",
			},
			[]string{"component", "operation"},
		),
		componentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "component_call_duration_seconds",
				Help:      "Duration of component calls in seconds",
				Buckets:   buckets,
			},
			[]string{"component", "operation"},
		),
		componentErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "component_errors_total",
				Help:      "Total number of component errors",
			},
			[]string{"component", "operation"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),
		queuedArtifacts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_artifacts",
				Help:      "Current number of artifacts waiting on their dependencies",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.artifactsExecuted,
		m.artifactDuration,
		m.artifactsRunning,
		m.componentCalls,
		m.componentDuration,
		m.componentErrors,
		m.errorsByClass,
		m.errorsByCode,
		m.activeRuns,
		m.queuedArtifacts,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(user string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(user).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Artifact Metrics

// RecordArtifactStarted increments the running-artifacts gauge.
func (m *Metrics) RecordArtifactStarted() {
	if m.artifactsRunning == nil {
		return
	}
	m.artifactsRunning.Inc()
}

// RecordArtifactExecution records the terminal outcome of one artifact.
func (m *Metrics) RecordArtifactExecution(kind, status string, duration time.Duration) {
	if m.artifactsExecuted == nil {
		return
	}
	m.artifactsExecuted.WithLabelValues(kind, status).Inc()
	m.artifactDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.artifactsRunning.Dec()
}

// Component Metrics

// RecordComponentCall records a component call with its duration.
func (m *Metrics) RecordComponentCall(component, operation string, duration time.Duration) {
	if m.componentCalls == nil {
		return
	}
	m.componentCalls.WithLabelValues(component, operation).Inc()
	m.componentDuration.WithLabelValues(component, operation).Observe(duration.Seconds())
}

// RecordComponentError records a component error.
func (m *Metrics) RecordComponentError(component, operation string) {
	if m.componentErrors == nil {
		return
	}
	m.componentErrors.WithLabelValues(component, operation).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// System Metrics

// SetActiveRuns sets the current number of active runs.
func (m *Metrics) SetActiveRuns(count float64) {
	if m.activeRuns == nil {
		return
	}
	m.activeRuns.Set(count)
}

// SetQueuedArtifacts sets the current number of artifacts waiting on
// unfinished dependencies.
func (m *Metrics) SetQueuedArtifacts(count float64) {
	if m.queuedArtifacts == nil {
		return
	}
	m.queuedArtifacts.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
