package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Stagecraft.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Phase metrics
	phasesExecuted *prometheus.CounterVec
	phaseDuration  *prometheus.HistogramVec
	phaseRetries   *prometheus.CounterVec

	// Failure handling metrics
	failureDecisions *prometheus.CounterVec

	// Rollback metrics
	rollbacks *prometheus.CounterVec

	// State persistence metrics
	stateWrites *prometheus.CounterVec

	// System metrics
	activeRun       prometheus.Gauge
	completedPhases prometheus.Gauge

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

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Run metrics
		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of deployment runs started",
			},
			[]string{"mode"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of deployment runs completed",
			},
			[]string{"result"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of deployment runs in seconds",
				Buckets:   buckets,
			},
			[]string{"result"},
		),

		// Phase metrics
		phasesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phases_executed_total",
				Help:      "Total number of phase executions",
			},
			[]string{"phase", "result"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of phase execution in seconds",
				Buckets:   buckets,
			},
			[]string{"phase"},
		),
		phaseRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_retries_total",
				Help:      "Total number of phase retry attempts",
			},
			[]string{"phase"},
		),

		// Failure handling metrics
		failureDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failure_decisions_total",
				Help:      "Total number of failure handling decisions",
			},
			[]string{"decision"},
		),

		// Rollback metrics
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Total number of rollback attempts",
			},
			[]string{"result"},
		),

		// State persistence metrics
		stateWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_writes_total",
				Help:      "Total number of execution state writes",
			},
			[]string{"result"},
		),

		// System metrics
		activeRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_run",
				Help:      "Whether a deployment run is currently active (1=active, 0=idle)",
			},
		),
		completedPhases: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "completed_phases",
				Help:      "Current number of phases recorded as complete",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.phasesExecuted,
		m.phaseDuration,
		m.phaseRetries,
		m.failureDecisions,
		m.rollbacks,
		m.stateWrites,
		m.activeRun,
		m.completedPhases,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(mode string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(mode).Inc()
	m.activeRun.Set(1)
}

// RecordRunCompleted records a completed run with its result and duration.
func (m *Metrics) RecordRunCompleted(result string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(result).Inc()
	m.runDuration.WithLabelValues(result).Observe(duration.Seconds())
	m.activeRun.Set(0)
}

// Phase Metrics

// RecordPhaseExecution records the execution of a single phase attempt.
func (m *Metrics) RecordPhaseExecution(phaseID, result string, duration time.Duration) {
	if m.phasesExecuted == nil {
		return
	}
	m.phasesExecuted.WithLabelValues(phaseID, result).Inc()
	m.phaseDuration.WithLabelValues(phaseID).Observe(duration.Seconds())
}

// RecordPhaseRetry records a retry attempt for a phase.
func (m *Metrics) RecordPhaseRetry(phaseID string) {
	if m.phaseRetries == nil {
		return
	}
	m.phaseRetries.WithLabelValues(phaseID).Inc()
}

// Failure Metrics

// RecordFailureDecision records the decision taken after a phase failure.
func (m *Metrics) RecordFailureDecision(decision string) {
	if m.failureDecisions == nil {
		return
	}
	m.failureDecisions.WithLabelValues(decision).Inc()
}

// Rollback Metrics

// RecordRollback records a rollback attempt with its result.
func (m *Metrics) RecordRollback(result string) {
	if m.rollbacks == nil {
		return
	}
	m.rollbacks.WithLabelValues(result).Inc()
}

// State Metrics

// RecordStateWrite records an execution state persistence attempt.
func (m *Metrics) RecordStateWrite(result string) {
	if m.stateWrites == nil {
		return
	}
	m.stateWrites.WithLabelValues(result).Inc()
}

// SetCompletedPhases sets the current number of completed phases.
func (m *Metrics) SetCompletedPhases(count float64) {
	if m.completedPhases == nil {
		return
	}
	m.completedPhases.Set(count)
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
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
