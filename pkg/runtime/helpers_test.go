package runtime

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aegis-runtime/aegis/pkg/core"
	"github.com/aegis-runtime/aegis/pkg/governance"
)

type stubAgent struct {
	id   string
	caps []string
	run  func(ctx context.Context, input map[string]interface{}, ec *core.ExecutionContext) (*core.AgentResult, error)
}

func (a *stubAgent) ID() string             { return a.id }
func (a *stubAgent) Capabilities() []string { return a.caps }

func (a *stubAgent) Run(ctx context.Context, input map[string]interface{}, ec *core.ExecutionContext) (*core.AgentResult, error) {
	if a.run != nil {
		return a.run(ctx, input, ec)
	}
	return &core.AgentResult{Status: core.StatusSuccess}, nil
}

type stubTool struct {
	id      string
	perms   []string
	calls   int
	execute func(ctx context.Context, input map[string]interface{}, ec *core.ExecutionContext) (*core.TargetResult, error)
}

func (t *stubTool) ID() string                    { return t.id }
func (t *stubTool) PermissionsRequired() []string { return t.perms }

func (t *stubTool) Execute(ctx context.Context, input map[string]interface{}, ec *core.ExecutionContext) (*core.TargetResult, error) {
	t.calls++
	if t.execute != nil {
		return t.execute(ctx, input, ec)
	}
	return &core.TargetResult{Status: core.StatusSuccess, Output: map[string]interface{}{"echo": input}}, nil
}

type stubService struct {
	id      string
	allowed map[string]bool
	calls   int
	execute func(ctx context.Context, input core.ServiceInput, ec *core.ExecutionContext) (*core.TargetResult, error)
}

func (s *stubService) ID() string { return s.id }

func (s *stubService) CheckPermission(action string, ec *core.ExecutionContext) bool {
	return s.allowed[action]
}

func (s *stubService) Execute(ctx context.Context, input core.ServiceInput, ec *core.ExecutionContext) (*core.TargetResult, error) {
	s.calls++
	if s.execute != nil {
		return s.execute(ctx, input, ec)
	}
	return &core.TargetResult{Status: core.StatusSuccess}, nil
}

// captureSink records audit, metric, and trace events and can fail audit
// emission on demand.
type captureSink struct {
	core.NoopSink
	mu        sync.Mutex
	audits    []core.AuditEvent
	metrics   []core.MetricEvent
	traces    []core.TraceEvent
	failAudit bool
}

func (s *captureSink) EmitAudit(event core.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAudit {
		return fmt.Errorf("audit sink unavailable")
	}
	s.audits = append(s.audits, event)
	return nil
}

func (s *captureSink) EmitMetric(event core.MetricEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, event)
	return nil
}

func (s *captureSink) EmitTrace(event core.TraceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces = append(s.traces, event)
	return nil
}

func (s *captureSink) metricEvents(name string) []core.MetricEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.MetricEvent
	for _, e := range s.metrics {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (s *captureSink) traceEvents(name string) []core.TraceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.TraceEvent
	for _, e := range s.traces {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (s *captureSink) auditEvents() []core.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.AuditEvent, len(s.audits))
	copy(out, s.audits)
	return out
}

func (s *captureSink) auditsWithOutcome(outcome string) []core.AuditEvent {
	var out []core.AuditEvent
	for _, e := range s.auditEvents() {
		if e.DecisionOutcome == outcome {
			out = append(out, e)
		}
	}
	return out
}

func newContext(t *testing.T, permissions map[string]interface{}, budget *core.Budget) *core.ExecutionContext {
	t.Helper()
	ec, err := core.NewExecutionContext(core.ContextParams{
		Initiator:   "test",
		Permissions: permissions,
		Budget:      budget,
	})
	if err != nil {
		t.Fatalf("NewExecutionContext() error = %v", err)
	}
	return ec
}

func newExecutor(t *testing.T, reg *Registry, ec *core.ExecutionContext, policies map[string]governance.PolicyConfig, sink core.ObservabilitySink) *ActionExecutor {
	t.Helper()
	logger := zerolog.Nop()
	engine, err := governance.NewPolicyEngine(context.Background(), policies, logger)
	if err != nil {
		t.Fatalf("NewPolicyEngine() error = %v", err)
	}
	if sink == nil {
		sink = core.NoopSink{}
	}
	tracker := governance.NewBudgetTracker()
	return NewActionExecutor(ExecutorDeps{
		Tools:       reg,
		Services:    reg,
		Permissions: governance.NewPermissionEvaluator(logger),
		Policy:      engine,
		Enforcer:    governance.NewBudgetEnforcer(tracker, ec.Budget(), logger),
		Audit:       governance.NewAuditEmitter(sink, logger),
		Sink:        sink,
	}, ec, logger)
}

func int64Ptr(v int64) *int64 { return &v }
