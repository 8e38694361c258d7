package telemetry

import (
	"errors"
	"sync"

	"github.com/aegis-runtime/aegis/pkg/core"
)

// ErrAuditUnavailable is returned by a MemorySink configured to refuse
// audit events.
var ErrAuditUnavailable = errors.New("audit stream unavailable")

// MemorySink retains every emitted signal in memory. It is intended for
// tests and for embedding the runtime where no telemetry backends exist.
type MemorySink struct {
	mu      sync.Mutex
	logs    []core.LogEvent
	traces  []core.TraceEvent
	metrics []core.MetricEvent
	audits  []core.AuditEvent

	// FailAudits makes EmitAudit return ErrAuditUnavailable without
	// recording the event.
	FailAudits bool
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// EmitLog records the log event.
func (s *MemorySink) EmitLog(event core.LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, event)
	return nil
}

// EmitTrace records the trace event.
func (s *MemorySink) EmitTrace(event core.TraceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces = append(s.traces, event)
	return nil
}

// EmitMetric records the metric event.
func (s *MemorySink) EmitMetric(event core.MetricEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, event)
	return nil
}

// EmitAudit records the audit event, or fails when FailAudits is set.
func (s *MemorySink) EmitAudit(event core.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAudits {
		return ErrAuditUnavailable
	}
	s.audits = append(s.audits, event)
	return nil
}

// Logs returns a copy of the recorded log events.
func (s *MemorySink) Logs() []core.LogEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.LogEvent, len(s.logs))
	copy(out, s.logs)
	return out
}

// Traces returns a copy of the recorded trace events.
func (s *MemorySink) Traces() []core.TraceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.TraceEvent, len(s.traces))
	copy(out, s.traces)
	return out
}

// Metrics returns a copy of the recorded metric events.
func (s *MemorySink) Metrics() []core.MetricEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.MetricEvent, len(s.metrics))
	copy(out, s.metrics)
	return out
}

// Audits returns a copy of the recorded audit events.
func (s *MemorySink) Audits() []core.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.AuditEvent, len(s.audits))
	copy(out, s.audits)
	return out
}

// Reset clears all recorded events.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = nil
	s.traces = nil
	s.metrics = nil
	s.audits = nil
}

var _ core.ObservabilitySink = (*MemorySink)(nil)
