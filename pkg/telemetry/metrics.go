package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the Aegis runtime.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Action metrics
	actionsExecuted *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec

	// Governance metrics
	governanceDecisions *prometheus.CounterVec
	budgetExhaustions   *prometheus.CounterVec
	retryAttempts       *prometheus.CounterVec

	// Audit metrics
	auditEvents *prometheus.CounterVec

	// Error metrics
	errorsByType *prometheus.CounterVec

	// Generic observations routed from emitted metric events
	observations *prometheus.HistogramVec

	// System metrics
	activeRuns  prometheus.Gauge
	queuedTasks prometheus.Gauge

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
				Help:      "Total number of agent runs started",
			},
			[]string{"agent"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of agent runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of agent run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		actionsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_executed_total",
				Help:      "Total number of governed actions executed",
			},
			[]string{"action_type", "status"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of governed action execution in seconds",
				Buckets:   buckets,
			},
			[]string{"action_type", "resource_id"},
		),

		governanceDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "governance_decisions_total",
				Help:      "Total number of governance decisions by check and outcome",
			},
			[]string{"check", "outcome"},
		),
		budgetExhaustions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "budget_exhaustions_total",
				Help:      "Total number of budget limit exhaustions",
			},
			[]string{"budget_type"},
		),
		retryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"source"},
		),

		auditEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_events_total",
				Help:      "Total number of audit events by emission result",
			},
			[]string{"result"},
		),

		errorsByType: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_type_total",
				Help:      "Total number of classified errors by error type",
			},
			[]string{"type"},
		),

		observations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "observations",
				Help:      "Generic observations emitted through the observability sink",
				Buckets:   buckets,
			},
			[]string{"name"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),
		queuedTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_tasks",
				Help:      "Current number of queued scheduler tasks",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.actionsExecuted,
		m.actionDuration,
		m.governanceDecisions,
		m.budgetExhaustions,
		m.retryAttempts,
		m.auditEvents,
		m.errorsByType,
		m.observations,
		m.activeRuns,
		m.queuedTasks,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(agentID string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(agentID).Inc()
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

// Action Metrics

// RecordActionExecution records the execution of a governed action.
func (m *Metrics) RecordActionExecution(actionType, status, resourceID string, duration time.Duration) {
	if m.actionsExecuted == nil {
		return
	}
	m.actionsExecuted.WithLabelValues(actionType, status).Inc()
	m.actionDuration.WithLabelValues(actionType, resourceID).Observe(duration.Seconds())
}

// Governance Metrics

// RecordGovernanceDecision records a permission, policy, or budget decision.
func (m *Metrics) RecordGovernanceDecision(check, outcome string) {
	if m.governanceDecisions == nil {
		return
	}
	m.governanceDecisions.WithLabelValues(check, outcome).Inc()
}

// RecordBudgetExhaustion records a budget limit being reached.
func (m *Metrics) RecordBudgetExhaustion(budgetType string) {
	if m.budgetExhaustions == nil {
		return
	}
	m.budgetExhaustions.WithLabelValues(budgetType).Inc()
}

// RecordRetryAttempt records a retry attempt for the given source.
func (m *Metrics) RecordRetryAttempt(source string) {
	if m.retryAttempts == nil {
		return
	}
	m.retryAttempts.WithLabelValues(source).Inc()
}

// Audit Metrics

// RecordAuditEvent records an audit emission with its result (emitted, failed).
func (m *Metrics) RecordAuditEvent(result string) {
	if m.auditEvents == nil {
		return
	}
	m.auditEvents.WithLabelValues(result).Inc()
}

// Error Metrics

// RecordError records a classified error by its canonical type.
func (m *Metrics) RecordError(errorType string) {
	if m.errorsByType == nil {
		return
	}
	m.errorsByType.WithLabelValues(errorType).Inc()
}

// Observe records a generic named observation.
func (m *Metrics) Observe(name string, value float64) {
	if m.observations == nil {
		return
	}
	m.observations.WithLabelValues(name).Observe(value)
}

// System Metrics

// SetQueuedTasks sets the current number of queued scheduler tasks.
func (m *Metrics) SetQueuedTasks(count float64) {
	if m.queuedTasks == nil {
		return
	}
	m.queuedTasks.Set(count)
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
