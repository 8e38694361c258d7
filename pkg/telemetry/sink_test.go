package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/aegis-runtime/aegis/pkg/core"
)

func newTestSink(t *testing.T, out *bytes.Buffer, bufferSize int) *Sink {
	t.Helper()
	tracer, err := NewTracer(TracingConfig{Enabled: false}, "aegis-test", "test", "test")
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	metrics, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return &Sink{
		logger:      &Logger{zlog: zerolog.Nop()},
		tracer:      tracer,
		metrics:     metrics,
		auditOut:    out,
		recentLimit: bufferSize,
	}
}

func auditEvent(id string) core.AuditEvent {
	return core.AuditEvent{
		EventID:           id,
		RunID:             "run-1",
		CorrelationID:     "corr-1",
		Timestamp:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		InitiatorIdentity: "user:test",
		Action:            "tool.execute",
		TargetResource:    "search",
		DecisionOutcome:   "granted",
	}
}

func TestSinkEmitAuditWritesJSONLine(t *testing.T) {
	var out bytes.Buffer
	sink := newTestSink(t, &out, 10)

	if err := sink.EmitAudit(auditEvent("ev-1")); err != nil {
		t.Fatalf("EmitAudit: %v", err)
	}

	line := strings.TrimSpace(out.String())
	var decoded core.AuditEvent
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("audit line is not valid JSON: %v", err)
	}
	if decoded.EventID != "ev-1" || decoded.DecisionOutcome != "granted" {
		t.Fatalf("unexpected decoded event: %+v", decoded)
	}
}

func TestSinkRetainsRecentAudits(t *testing.T) {
	var out bytes.Buffer
	sink := newTestSink(t, &out, 2)

	for _, id := range []string{"ev-1", "ev-2", "ev-3"} {
		if err := sink.EmitAudit(auditEvent(id)); err != nil {
			t.Fatalf("EmitAudit(%s): %v", id, err)
		}
	}

	recent := sink.RecentAudits()
	if len(recent) != 2 {
		t.Fatalf("expected buffer trimmed to 2 events, got %d", len(recent))
	}
	if recent[0].EventID != "ev-2" || recent[1].EventID != "ev-3" {
		t.Fatalf("expected oldest event evicted, got %s, %s", recent[0].EventID, recent[1].EventID)
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestSinkEmitAuditSurfacesWriteFailure(t *testing.T) {
	tracer, _ := NewTracer(TracingConfig{Enabled: false}, "aegis-test", "test", "test")
	metrics, _ := NewMetrics(MetricsConfig{Enabled: false})
	sink := &Sink{
		logger:   &Logger{zlog: zerolog.Nop()},
		tracer:   tracer,
		metrics:  metrics,
		auditOut: failWriter{},
	}

	err := sink.EmitAudit(auditEvent("ev-1"))
	if err == nil {
		t.Fatal("expected write failure to surface")
	}
	if !strings.Contains(err.Error(), "ev-1") {
		t.Fatalf("expected error to name the event, got %v", err)
	}
	if len(sink.RecentAudits()) != 0 {
		t.Fatal("failed event must not be retained")
	}
}

func TestSinkLogTraceMetricNeverFail(t *testing.T) {
	var out bytes.Buffer
	sink := newTestSink(t, &out, 0)

	corr := core.Correlation{
		RunID:         "run-1",
		CorrelationID: "corr-1",
		Component:     "runtime",
		Timestamp:     time.Now().UTC(),
	}

	if err := sink.EmitLog(core.LogEvent{Correlation: corr, Level: "error", Message: "boom"}); err != nil {
		t.Fatalf("EmitLog: %v", err)
	}
	if err := sink.EmitTrace(core.TraceEvent{Correlation: corr, Name: "run.execute", Duration: time.Millisecond}); err != nil {
		t.Fatalf("EmitTrace: %v", err)
	}
	if err := sink.EmitMetric(core.MetricEvent{Correlation: corr, Name: "run_duration_seconds", Value: 0.5}); err != nil {
		t.Fatalf("EmitMetric: %v", err)
	}
}

func TestSinkEmitMetricRoutesWellKnownNames(t *testing.T) {
	metrics, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "aegis"})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	tracer, err := NewTracer(TracingConfig{Enabled: false}, "aegis-test", "test", "test")
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	sink := &Sink{
		logger:  &Logger{zlog: zerolog.Nop()},
		tracer:  tracer,
		metrics: metrics,
	}
	corr := core.Correlation{RunID: "run-1", CorrelationID: "corr-1", Component: "runtime"}

	emissions := []core.MetricEvent{
		{Correlation: corr, Name: core.MetricRunsStarted, Value: 1, Labels: map[string]string{"agent_id": "query"}},
		{Correlation: corr, Name: core.MetricGovernanceDecisions, Value: 1, Labels: map[string]string{"check": "policy", "outcome": "allow"}},
		{Correlation: corr, Name: core.MetricBudgetExhaustions, Value: 1, Labels: map[string]string{"budget_type": "calls"}},
		{Correlation: corr, Name: core.MetricRetryAttempts, Value: 1, Labels: map[string]string{"source": "tool.flaky"}},
		{Correlation: corr, Name: core.MetricErrors, Value: 1, Labels: map[string]string{"type": "timeout"}},
	}
	for _, event := range emissions {
		if err := sink.EmitMetric(event); err != nil {
			t.Fatalf("EmitMetric(%s): %v", event.Name, err)
		}
	}

	checks := []struct {
		name string
		got  float64
	}{
		{"runs started", testutil.ToFloat64(metrics.runsStarted.WithLabelValues("query"))},
		{"governance decisions", testutil.ToFloat64(metrics.governanceDecisions.WithLabelValues("policy", "allow"))},
		{"budget exhaustions", testutil.ToFloat64(metrics.budgetExhaustions.WithLabelValues("calls"))},
		{"retry attempts", testutil.ToFloat64(metrics.retryAttempts.WithLabelValues("tool.flaky"))},
		{"errors", testutil.ToFloat64(metrics.errorsByType.WithLabelValues("timeout"))},
	}
	for _, c := range checks {
		if c.got != 1 {
			t.Errorf("%s counter = %v, want 1", c.name, c.got)
		}
	}
}

func TestSinkCloseClosesFileBackedAudit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Audit.Output = path

	sink, err := NewSink(cfg)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if err := sink.EmitAudit(auditEvent("ev-close")); err != nil {
		t.Fatalf("EmitAudit: %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading audit file: %v", err)
	}
	if !strings.Contains(string(data), "ev-close") {
		t.Fatalf("audit file missing emitted event, got %q", data)
	}
}

func TestSinkCloseSkipsProcessStreams(t *testing.T) {
	var out bytes.Buffer
	sink := newTestSink(t, &out, 0)

	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close without a file-backed audit stream: %v", err)
	}
}

func TestMemorySinkRecordsAllSignals(t *testing.T) {
	sink := NewMemorySink()
	corr := core.Correlation{RunID: "run-1", CorrelationID: "corr-1"}

	if err := sink.EmitLog(core.LogEvent{Correlation: corr, Message: "hello"}); err != nil {
		t.Fatalf("EmitLog: %v", err)
	}
	if err := sink.EmitTrace(core.TraceEvent{Correlation: corr, Name: "span"}); err != nil {
		t.Fatalf("EmitTrace: %v", err)
	}
	if err := sink.EmitMetric(core.MetricEvent{Correlation: corr, Name: "m", Value: 1}); err != nil {
		t.Fatalf("EmitMetric: %v", err)
	}
	if err := sink.EmitAudit(auditEvent("ev-1")); err != nil {
		t.Fatalf("EmitAudit: %v", err)
	}

	if len(sink.Logs()) != 1 || len(sink.Traces()) != 1 || len(sink.Metrics()) != 1 || len(sink.Audits()) != 1 {
		t.Fatal("expected one event of each kind")
	}

	sink.Reset()
	if len(sink.Audits()) != 0 {
		t.Fatal("Reset must clear recorded events")
	}
}

func TestMemorySinkFailAudits(t *testing.T) {
	sink := NewMemorySink()
	sink.FailAudits = true

	err := sink.EmitAudit(auditEvent("ev-1"))
	if !errors.Is(err, ErrAuditUnavailable) {
		t.Fatalf("expected ErrAuditUnavailable, got %v", err)
	}
	if len(sink.Audits()) != 0 {
		t.Fatal("refused event must not be recorded")
	}
}
