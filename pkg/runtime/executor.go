package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-runtime/aegis/pkg/core"
	"github.com/aegis-runtime/aegis/pkg/governance"
)

// ActionExecutor drives the governance pipeline around one run's tool
// and service invocations. The sequence is fixed and non-reorderable:
// resolve target, budget check, permission check, policy check, record
// call, invoke, record cost. Every decision point emits an audit event,
// grants included.
//
// Audit failures follow one explicit rule: on a grant/allow path a
// failed emission aborts the action before the target is invoked, so an
// unaudited decision never produces a side effect; on a denial path the
// denial is surfaced and the audit failure is only logged, so the
// governance error is never masked.
type ActionExecutor struct {
	tools       core.ToolRegistry
	services    core.ServiceRegistry
	permissions *governance.PermissionEvaluator
	policy      *governance.PolicyEngine
	enforcer    *governance.BudgetEnforcer
	audit       *governance.AuditEmitter
	sink        core.ObservabilitySink
	ec          *core.ExecutionContext
	logger      zerolog.Logger
}

// ExecutorDeps bundles the collaborators an executor needs.
type ExecutorDeps struct {
	Tools       core.ToolRegistry
	Services    core.ServiceRegistry
	Permissions *governance.PermissionEvaluator
	Policy      *governance.PolicyEngine
	Enforcer    *governance.BudgetEnforcer
	Audit       *governance.AuditEmitter

	// Sink receives decision metrics and spans. Optional; defaults to
	// the no-op sink.
	Sink core.ObservabilitySink
}

// NewActionExecutor creates an executor bound to one run's context and
// budget enforcer.
func NewActionExecutor(deps ExecutorDeps, ec *core.ExecutionContext, logger zerolog.Logger) *ActionExecutor {
	sink := deps.Sink
	if sink == nil {
		sink = core.NoopSink{}
	}
	return &ActionExecutor{
		tools:       deps.Tools,
		services:    deps.Services,
		permissions: deps.Permissions,
		policy:      deps.Policy,
		enforcer:    deps.Enforcer,
		audit:       deps.Audit,
		sink:        sink,
		ec:          ec,
		logger: logger.With().
			Str("component", "runtime.executor").
			Str("run_id", ec.RunID()).
			Logger(),
	}
}

// Execute runs one governed action and returns the uniform result
// envelope. Any failure, the target's own included, is wrapped as an
// ActionExecutionError.
func (x *ActionExecutor) Execute(ctx context.Context, action core.Action) (*core.ActionResult, error) {
	if err := action.Validate(); err != nil {
		return nil, x.fail(action, err)
	}

	resource := action.ResourceID()
	policyAction := action.PolicyAction()

	// 1. Resolve the target. An unknown id fails before any governance
	// check runs.
	var (
		tool    core.Tool
		service core.Service
	)
	switch action.Type {
	case core.ActionTypeTool:
		t, ok := x.tools.GetTool(action.ToolID)
		if !ok {
			return nil, x.fail(action, &core.ValidationError{Field: "tool_id", Message: fmt.Sprintf("unknown tool %q", action.ToolID)})
		}
		tool = t
	case core.ActionTypeService:
		s, ok := x.services.GetService(action.ServiceID)
		if !ok {
			return nil, x.fail(action, &core.ValidationError{Field: "service_id", Message: fmt.Sprintf("unknown service %q", action.ServiceID)})
		}
		service = s
	}

	// 2. Budget gate.
	gateStart := time.Now()
	if err := x.enforcer.Check(); err != nil {
		var berr *core.BudgetExceededError
		if errors.As(err, &berr) {
			x.auditDenialPath(x.audit.BudgetExhausted(x.ec, policyAction, resource, berr))
			x.emitMetric(core.MetricBudgetExhaustions, 1, map[string]string{"budget_type": berr.BudgetType})
		}
		x.emitDecision("budget", "denied", resource, gateStart)
		return nil, x.fail(action, err)
	}
	x.emitDecision("budget", "granted", resource, gateStart)

	// 3. Permission gate.
	if err := x.checkPermissions(action, tool, service, policyAction, resource); err != nil {
		return nil, err
	}

	// 4. Policy gate.
	if err := x.checkPolicy(ctx, action, policyAction, resource); err != nil {
		return nil, err
	}

	// 5. Record the call, then invoke.
	x.enforcer.Tracker().RecordCall()
	invokeStart := time.Now()
	result, err := x.invoke(ctx, action, tool, service)
	if err != nil {
		return nil, x.fail(action, err)
	}

	// 6. Record target-reported cost.
	if cost, ok := result.Metrics["cost"]; ok {
		if err := x.enforcer.Tracker().RecordCost(cost); err != nil {
			return nil, x.fail(action, err)
		}
	}

	elapsed := time.Since(invokeStart)
	x.emitMetric(core.MetricActionDuration, elapsed.Seconds(), map[string]string{
		"action_type": string(action.Type),
		"status":      result.Status,
		"resource_id": resource,
	})
	x.emitSpan(core.SpanAction, invokeStart, elapsed, map[string]string{
		"resource_id": resource,
		"action":      policyAction,
		"status":      result.Status,
	})

	// 7. Uniform envelope.
	return &core.ActionResult{
		Type:       action.Type,
		ResourceID: resource,
		Verb:       action.Verb,
		Status:     result.Status,
		Output:     result.Output,
		Errors:     result.Errors,
		Metrics:    result.Metrics,
	}, nil
}

// checkPermissions evaluates the permission gate for either variant and
// audits both outcomes.
func (x *ActionExecutor) checkPermissions(action core.Action, tool core.Tool, service core.Service, policyAction, resource string) error {
	gateStart := time.Now()
	var required []string
	var denial error

	switch action.Type {
	case core.ActionTypeTool:
		required = tool.PermissionsRequired()
		denial = x.permissions.Check(x.ec, required, resource)
	case core.ActionTypeService:
		required = []string{action.Verb}
		if !service.CheckPermission(action.Verb, x.ec) {
			denial = &core.PermissionError{
				Missing:    []string{action.Verb},
				ResourceID: resource,
			}
		}
	}

	if denial != nil {
		x.auditDenialPath(x.audit.PermissionDecision(x.ec, policyAction, resource, governance.DecisionDenied, required, nil))
		x.emitDecision("permission", "denied", resource, gateStart)
		return x.fail(action, denial)
	}
	x.emitDecision("permission", "granted", resource, gateStart)
	if err := x.audit.PermissionDecision(x.ec, policyAction, resource, governance.DecisionGranted, required, nil); err != nil {
		return x.fail(action, err)
	}
	return nil
}

// checkPolicy evaluates the policy gate and audits all three outcomes.
func (x *ActionExecutor) checkPolicy(ctx context.Context, action core.Action, policyAction, resource string) error {
	gateStart := time.Now()
	decision, err := x.policy.Evaluate(ctx, policyAction, resource, string(action.Type), nil)
	if err != nil {
		return x.fail(action, err)
	}
	x.emitDecision("policy", string(decision.Outcome), resource, gateStart)

	switch decision.Outcome {
	case governance.OutcomeAllow:
		if err := x.audit.PolicyDecision(x.ec, policyAction, resource, decision.Outcome, decision.Pattern, nil); err != nil {
			return x.fail(action, err)
		}
		return nil
	default:
		// DENY and REQUIRE_APPROVAL are both hard stops; there is no
		// asynchronous approval channel.
		x.auditDenialPath(x.audit.PolicyDecision(x.ec, policyAction, resource, decision.Outcome, decision.Pattern, nil))
		return x.fail(action, &core.PolicyViolationError{
			Action:     policyAction,
			Outcome:    string(decision.Outcome),
			ResourceID: resource,
		})
	}
}

// emitDecision reports a governance gate outcome as a metric and a short
// governance span. Emission failures never alter the decision.
func (x *ActionExecutor) emitDecision(check, outcome, resource string, start time.Time) {
	x.emitMetric(core.MetricGovernanceDecisions, 1, map[string]string{
		"check":   check,
		"outcome": outcome,
	})
	x.emitSpan(core.SpanGovernancePrefix+check, start, time.Since(start), map[string]string{
		"resource_id": resource,
		"outcome":     outcome,
	})
}

func (x *ActionExecutor) emitMetric(name string, value float64, labels map[string]string) {
	err := x.sink.EmitMetric(core.MetricEvent{
		Correlation: x.correlation(time.Now().UTC()),
		Name:        name,
		Value:       value,
		Labels:      labels,
	})
	if err != nil {
		x.logger.Debug().Err(err).Msg("metric emission failed")
	}
}

func (x *ActionExecutor) emitSpan(name string, start time.Time, elapsed time.Duration, attrs map[string]string) {
	err := x.sink.EmitTrace(core.TraceEvent{
		Correlation: x.correlation(start.UTC()),
		Name:        name,
		Duration:    elapsed,
		Attributes:  attrs,
	})
	if err != nil {
		x.logger.Debug().Err(err).Msg("trace emission failed")
	}
}

func (x *ActionExecutor) correlation(ts time.Time) core.Correlation {
	return core.Correlation{
		RunID:         x.ec.RunID(),
		CorrelationID: x.ec.CorrelationID(),
		Component:     "runtime.executor",
		Timestamp:     ts,
	}
}

// invoke calls the target, converting panics into errors so the target's
// failure mode never escapes the pipeline.
func (x *ActionExecutor) invoke(ctx context.Context, action core.Action, tool core.Tool, service core.Service) (result *core.TargetResult, err error) {
	if action.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, action.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			x.logger.Error().
				Interface("panic", r).
				Str("resource", action.ResourceID()).
				Msg("target panicked")
			result = nil
			err = fmt.Errorf("target panicked: %v", r)
		}
	}()

	switch action.Type {
	case core.ActionTypeService:
		result, err = service.Execute(ctx, core.ServiceInput{Action: action.Verb, Payload: action.Payload}, x.ec)
	default:
		result, err = tool.Execute(ctx, action.Payload, x.ec)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("target returned no result")
	}
	return result, nil
}

// fail wraps any pipeline failure as an ActionExecutionError.
func (x *ActionExecutor) fail(action core.Action, err error) error {
	x.logger.Warn().
		Err(err).
		Str("action_type", string(action.Type)).
		Str("resource", action.ResourceID()).
		Msg("action failed")
	return &core.ActionExecutionError{
		ActionType: string(action.Type),
		ResourceID: action.ResourceID(),
		Err:        err,
	}
}

// auditDenialPath logs an audit failure that happened while a governance
// denial was already in flight. The denial wins; the audit failure must
// not mask it.
func (x *ActionExecutor) auditDenialPath(err error) {
	if err != nil {
		x.logger.Error().Err(err).Msg("audit emission failed on denial path")
	}
}
