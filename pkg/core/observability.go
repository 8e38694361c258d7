package core

import "time"

// Correlation is the identifier set attached to every observability and
// audit signal.
type Correlation struct {
	// RunID ties the signal to one run.
	RunID string `json:"run_id"`

	// CorrelationID ties the signal to the originating request.
	CorrelationID string `json:"correlation_id"`

	// Component is the emitting component, e.g. "governance.audit".
	Component string `json:"component"`

	// Timestamp records when the signal was produced.
	Timestamp time.Time `json:"timestamp"`
}

// LogEvent is a structured log signal.
type LogEvent struct {
	Correlation

	// Level is the log severity: debug, info, warn, error.
	Level string `json:"level"`

	// Message is the log text.
	Message string `json:"message"`

	// Fields carries structured context.
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// TraceEvent is a span-level trace signal.
type TraceEvent struct {
	Correlation

	// Name is the span name.
	Name string `json:"name"`

	// Duration is the span duration.
	Duration time.Duration `json:"duration"`

	// Attributes carries span attributes.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Well-known signal names. Sinks route these onto dedicated instruments;
// any other name lands in a generic observation series.
const (
	MetricRunsStarted         = "aegis_runs_started"
	MetricRunDuration         = "aegis_run_duration_seconds"
	MetricActionDuration      = "aegis_action_duration_seconds"
	MetricGovernanceDecisions = "aegis_governance_decisions"
	MetricBudgetExhaustions   = "aegis_budget_exhaustions"
	MetricRetryAttempts       = "aegis_retry_attempts"
	MetricErrors              = "aegis_errors"
)

// Well-known span names. Governance decision spans are named
// SpanGovernancePrefix followed by the check ("budget", "permission",
// "policy").
const (
	SpanRun              = "run.execute"
	SpanAction           = "action.execute"
	SpanGovernancePrefix = "governance."
)

// MetricEvent is a single measurement signal.
type MetricEvent struct {
	Correlation

	// Name is the metric name.
	Name string `json:"name"`

	// Value is the measurement.
	Value float64 `json:"value"`

	// Labels carries metric dimensions.
	Labels map[string]string `json:"labels,omitempty"`
}

// AuditEvent records one governance decision. Events are immutable and
// append-only; one is produced per decision point, grants included, so
// the audit stream reconstructs the full decision history of a run.
type AuditEvent struct {
	// EventID is a fresh identifier for the event.
	EventID string `json:"event_id"`

	// RunID ties the decision to one run.
	RunID string `json:"run_id"`

	// CorrelationID ties the decision to the originating request.
	CorrelationID string `json:"correlation_id"`

	// Timestamp records when the decision was made.
	Timestamp time.Time `json:"timestamp"`

	// InitiatorIdentity is the caller on whose behalf the run executes.
	InitiatorIdentity string `json:"initiator_identity"`

	// Action is the governed action string, e.g. "tool.execute".
	Action string `json:"action"`

	// TargetResource is the tool or service id.
	TargetResource string `json:"target_resource"`

	// DecisionOutcome is the decision, e.g. "granted", "denied", "allow".
	DecisionOutcome string `json:"decision_outcome"`

	// PolicyOrPermission names the policy pattern or permission set that
	// produced the decision, when applicable.
	PolicyOrPermission string `json:"policy_or_permission,omitempty"`

	// Metadata carries decision-specific detail.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ObservabilitySink receives all four signal kinds. Implementations may
// fail on the first three without altering execution; a failed EmitAudit
// is contractually significant and must be surfaced by the caller.
type ObservabilitySink interface {
	EmitLog(event LogEvent) error
	EmitTrace(event TraceEvent) error
	EmitMetric(event MetricEvent) error
	EmitAudit(event AuditEvent) error
}

// NoopSink discards every signal. Useful as a default and in tests.
type NoopSink struct{}

// EmitLog discards the event.
func (NoopSink) EmitLog(LogEvent) error { return nil }

// EmitTrace discards the event.
func (NoopSink) EmitTrace(TraceEvent) error { return nil }

// EmitMetric discards the event.
func (NoopSink) EmitMetric(MetricEvent) error { return nil }

// EmitAudit discards the event.
func (NoopSink) EmitAudit(AuditEvent) error { return nil }
