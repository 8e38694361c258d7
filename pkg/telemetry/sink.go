package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aegis-runtime/aegis/pkg/core"
)

// Sink fans observability signals out to the configured backends: logs to
// zerolog, traces to OpenTelemetry, metrics to Prometheus, and audit events
// to a dedicated append-only JSON stream.
//
// Log, trace, and metric emission never fail; audit emission returns an
// error when the audit stream cannot be written, and callers are expected
// to treat that error as significant.
type Sink struct {
	logger  *Logger
	tracer  *Tracer
	metrics *Metrics

	mu          sync.Mutex
	auditOut    io.Writer
	auditCloser io.Closer
	recent      []core.AuditEvent
	recentLimit int
}

// NewSink builds a sink from the telemetry configuration.
func NewSink(cfg *Config) (*Sink, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	auditOut, auditCloser, err := openAuditOutput(cfg.Audit.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit output: %w", err)
	}

	return &Sink{
		logger:      logger.NewComponentLogger("telemetry.sink"),
		tracer:      tracer,
		metrics:     metrics,
		auditOut:    auditOut,
		auditCloser: auditCloser,
		recentLimit: cfg.Audit.BufferSize,
	}, nil
}

// openAuditOutput resolves the audit stream destination. The returned
// closer is nil for the process streams, which the sink must not close.
func openAuditOutput(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	}
}

// Logger returns the sink's root logger.
func (s *Sink) Logger() *Logger {
	return s.logger
}

// Tracer returns the sink's tracer.
func (s *Sink) Tracer() *Tracer {
	return s.tracer
}

// Metrics returns the sink's metrics collector.
func (s *Sink) Metrics() *Metrics {
	return s.metrics
}

// EmitLog writes a structured log record. It never fails.
func (s *Sink) EmitLog(event core.LogEvent) error {
	logger := s.logger.
		WithRunID(event.RunID).
		WithCorrelationID(event.CorrelationID).
		WithField("source_component", event.Component)
	if len(event.Fields) > 0 {
		logger = logger.WithFields(event.Fields)
	}

	switch event.Level {
	case "debug":
		logger.Debug(event.Message)
	case "warn":
		logger.Warn(event.Message)
	case "error":
		logger.Error(event.Message)
	default:
		logger.Info(event.Message)
	}
	return nil
}

// EmitTrace records a completed span. The event's timestamp marks the span
// start; the duration fixes its end. Well-known span names are routed to
// the run/action/governance span kinds. It never fails.
func (s *Sink) EmitTrace(event core.TraceEvent) error {
	attrs := []attribute.KeyValue{
		AttrRunID.String(event.RunID),
		AttrCorrelationID.String(event.CorrelationID),
		attribute.String("component", event.Component),
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	opts := []trace.SpanStartOption{
		trace.WithTimestamp(event.Timestamp),
		trace.WithAttributes(attrs...),
	}

	ctx := context.Background()
	var span trace.Span
	switch {
	case event.Name == core.SpanRun:
		_, span = s.tracer.StartRunSpan(ctx, event.RunID, event.Attributes["agent_id"], opts...)
	case event.Name == core.SpanAction:
		_, span = s.tracer.StartActionSpan(ctx, event.RunID, event.Attributes["resource_id"], event.Attributes["action"], opts...)
	case strings.HasPrefix(event.Name, core.SpanGovernancePrefix):
		check := strings.TrimPrefix(event.Name, core.SpanGovernancePrefix)
		_, span = s.tracer.StartGovernanceSpan(ctx, check, event.Attributes["resource_id"], opts...)
		if outcome, ok := event.Attributes["outcome"]; ok {
			AddDecisionEvent(span, check, outcome)
		}
	default:
		_, span = s.tracer.Start(ctx, event.Name, opts...)
	}
	span.End(trace.WithTimestamp(event.Timestamp.Add(event.Duration)))
	return nil
}

// EmitMetric records a measurement. Well-known names update the dedicated
// run/action/governance instruments; every event also lands in the generic
// observation histogram. It never fails.
func (s *Sink) EmitMetric(event core.MetricEvent) error {
	switch event.Name {
	case core.MetricRunsStarted:
		s.metrics.RecordRunStarted(event.Labels["agent_id"])
	case core.MetricRunDuration:
		s.metrics.RecordRunCompleted(event.Labels["status"], secondsToDuration(event.Value))
	case core.MetricActionDuration:
		s.metrics.RecordActionExecution(event.Labels["action_type"], event.Labels["status"], event.Labels["resource_id"], secondsToDuration(event.Value))
	case core.MetricGovernanceDecisions:
		s.metrics.RecordGovernanceDecision(event.Labels["check"], event.Labels["outcome"])
	case core.MetricBudgetExhaustions:
		s.metrics.RecordBudgetExhaustion(event.Labels["budget_type"])
	case core.MetricRetryAttempts:
		s.metrics.RecordRetryAttempt(event.Labels["source"])
	case core.MetricErrors:
		s.metrics.RecordError(event.Labels["type"])
	}
	s.metrics.Observe(event.Name, event.Value)
	return nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// EmitAudit appends the event to the audit stream as one JSON line and
// retains it in the in-memory buffer. A write failure is returned to the
// caller.
func (s *Sink) EmitAudit(event core.AuditEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		s.metrics.RecordAuditEvent("failed")
		return fmt.Errorf("failed to encode audit event %s: %w", event.EventID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.auditOut.Write(append(line, '\n')); err != nil {
		s.metrics.RecordAuditEvent("failed")
		return fmt.Errorf("failed to write audit event %s: %w", event.EventID, err)
	}

	if s.recentLimit > 0 {
		s.recent = append(s.recent, event)
		if len(s.recent) > s.recentLimit {
			s.recent = s.recent[len(s.recent)-s.recentLimit:]
		}
	}
	s.metrics.RecordAuditEvent("emitted")
	return nil
}

// Close flushes and shuts down the tracer and closes the audit stream
// when it is file-backed. The sink must not be used after Close.
func (s *Sink) Close(ctx context.Context) error {
	var errs []error
	if err := s.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
	}

	s.mu.Lock()
	closer := s.auditCloser
	s.auditCloser = nil
	s.mu.Unlock()
	if closer != nil {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit output close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RecentAudits returns a copy of the retained audit events, oldest first.
func (s *Sink) RecentAudits() []core.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.AuditEvent, len(s.recent))
	copy(out, s.recent)
	return out
}

var _ core.ObservabilitySink = (*Sink)(nil)
