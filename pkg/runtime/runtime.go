package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-runtime/aegis/pkg/core"
	"github.com/aegis-runtime/aegis/pkg/governance"
)

// Options configures a Runtime.
type Options struct {
	// Registry holds the agents, tools, and services. Required.
	Registry *Registry

	// Policy is the policy engine consulted by every action. A nil value
	// means no policies are configured and everything defaults to allow.
	Policy *governance.PolicyEngine

	// Sink receives all observability and audit signals. Defaults to the
	// no-op sink.
	Sink core.ObservabilitySink

	// DefaultLocale seeds contexts created on behalf of callers.
	DefaultLocale string

	// Logger is the root logger; components derive children from it.
	Logger zerolog.Logger
}

// ExecuteRequest selects an agent and supplies its input. Exactly one of
// AgentID and RequiredCapabilities must be set. When Context is nil a
// fresh context is created from Initiator, Permissions, Budget, and
// Metadata.
type ExecuteRequest struct {
	AgentID              string
	RequiredCapabilities []string
	Input                map[string]interface{}
	Initiator            string
	Context              *core.ExecutionContext
	Permissions          map[string]interface{}
	Budget               *core.Budget
	Metadata             map[string]interface{}
}

// runState holds the per-run objects shared by every action of one run.
// External states are pinned by BeginRun and survive individual Execute
// calls until ReleaseRun.
type runState struct {
	tracker  *governance.BudgetTracker
	enforcer *governance.BudgetEnforcer
	external bool
}

// Runtime is the governed entry point. It routes to a decision unit,
// drives the run's lifecycle, and funnels every requested action through
// the governance pipeline. One budget tracker is created per run and
// shared by all of the run's actions on every path.
type Runtime struct {
	registry    *Registry
	router      *Router
	policy      *governance.PolicyEngine
	permissions *governance.PermissionEvaluator
	audit       *governance.AuditEmitter
	factory     *ContextFactory
	sink        core.ObservabilitySink
	logger      zerolog.Logger

	mu         sync.Mutex
	runs       map[string]*runState
	lastEvents []LifecycleEvent
}

// New creates a runtime.
func New(opts Options) (*Runtime, error) {
	if opts.Registry == nil {
		return nil, &core.ValidationError{Field: "registry", Message: "registry is required"}
	}
	if opts.Sink == nil {
		opts.Sink = core.NoopSink{}
	}
	policy := opts.Policy
	if policy == nil {
		var err error
		policy, err = governance.NewPolicyEngine(context.Background(), nil, opts.Logger)
		if err != nil {
			return nil, err
		}
	}
	logger := opts.Logger.With().Str("component", "runtime").Logger()
	return &Runtime{
		registry:    opts.Registry,
		router:      NewRouter(opts.Registry, opts.Logger),
		policy:      policy,
		permissions: governance.NewPermissionEvaluator(opts.Logger),
		audit:       governance.NewAuditEmitter(opts.Sink, opts.Logger),
		factory:     NewContextFactory(opts.DefaultLocale, opts.Logger),
		sink:        opts.Sink,
		logger:      logger,
		runs:        make(map[string]*runState),
	}, nil
}

// Registry returns the runtime's registry for setup-time registration.
func (r *Runtime) Registry() *Registry { return r.registry }

// ContextFactory returns the runtime's context factory.
func (r *Runtime) ContextFactory() *ContextFactory { return r.factory }

// Execute routes to an agent, runs it, and executes every action it
// requests through the governance pipeline. Routing failures surface
// before any lifecycle or budget state exists. Action failures do not
// abort the run; they are collected into the result's error list, so a
// partially successful run is a first-class outcome.
func (r *Runtime) Execute(ctx context.Context, req ExecuteRequest) (*core.AgentResult, error) {
	agent, err := r.router.Select(req.AgentID, req.RequiredCapabilities)
	if err != nil {
		return nil, err
	}

	ec := req.Context
	if ec == nil {
		ec, err = r.factory.Create(core.ContextParams{
			Initiator:   req.Initiator,
			Permissions: req.Permissions,
			Budget:      req.Budget,
			Metadata:    req.Metadata,
		})
		if err != nil {
			return nil, err
		}
	}

	state := r.stateFor(ec)
	lifecycle := NewLifecycleManager(ec.RunID(), r.logger)
	defer r.finishRun(ec.RunID(), state, lifecycle)

	r.emitMetric(ec, core.MetricRunsStarted, 1, map[string]string{"agent_id": agent.ID()})

	if err := lifecycle.Transition(StateReady, map[string]interface{}{"agent_id": agent.ID()}); err != nil {
		return nil, err
	}
	if err := lifecycle.Transition(StateExecuting, nil); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := r.runAgent(ctx, agent, req.Input, ec)
	if err != nil {
		cerr := Classify(err, "runtime.agent."+agent.ID())
		_ = lifecycle.Transition(StateFailed, map[string]interface{}{"error": cerr.Message})
		r.emitMetric(ec, core.MetricErrors, 1, map[string]string{"type": string(cerr.Type)})
		r.emitRunSignals(ec, agent.ID(), "failed", time.Since(start))
		return nil, fmt.Errorf("agent %q failed: %w", agent.ID(), cerr)
	}
	if result == nil {
		result = &core.AgentResult{Status: core.StatusSuccess}
	}

	executor := r.executorFor(ec, state)
	for _, action := range result.Actions {
		actionResult, actionErr := executor.Execute(ctx, action)
		if actionErr != nil {
			cerr := Classify(actionErr, "runtime.executor")
			r.emitMetric(ec, core.MetricErrors, 1, map[string]string{"type": string(cerr.Type)})
			result.Errors = append(result.Errors, cerr)
			result.ActionResults = append(result.ActionResults, &core.ActionResult{
				Type:       action.Type,
				ResourceID: action.ResourceID(),
				Verb:       action.Verb,
				Status:     core.StatusFailure,
				Errors:     []*core.Error{cerr},
			})
			continue
		}
		result.ActionResults = append(result.ActionResults, actionResult)
	}
	if len(result.Errors) > 0 && result.Status == core.StatusSuccess {
		result.Status = core.StatusPartial
	}

	_ = lifecycle.Transition(StateCompleted, map[string]interface{}{
		"status":  result.Status,
		"actions": len(result.Actions),
	})
	r.emitRunSignals(ec, agent.ID(), result.Status, time.Since(start))
	return result, nil
}

// ExecuteAction runs a single action through the governance pipeline
// using the caller's context. Actions of the same run share one budget
// tracker regardless of which path issues them.
func (r *Runtime) ExecuteAction(ctx context.Context, action core.Action, ec *core.ExecutionContext) (*core.ActionResult, error) {
	state := r.stateFor(ec)
	return r.executorFor(ec, state).Execute(ctx, action)
}

// LifecycleEvents returns the ordered lifecycle events of the most
// recently completed run.
func (r *Runtime) LifecycleEvents() []LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LifecycleEvent, len(r.lastEvents))
	copy(out, r.lastEvents)
	return out
}

// BeginRun pins the run's shared state so it survives individual Execute
// calls. Drivers that issue several executions under one context, like
// the flow engine, pair it with ReleaseRun.
func (r *Runtime) BeginRun(ec *core.ExecutionContext) {
	state := r.stateFor(ec)
	r.mu.Lock()
	state.external = true
	r.mu.Unlock()
}

// ReleaseRun discards the per-run state for a run driven externally
// through BeginRun or ExecuteAction. Runs driven by a single Execute
// call are released automatically.
func (r *Runtime) ReleaseRun(runID string) {
	r.mu.Lock()
	delete(r.runs, runID)
	r.mu.Unlock()
}

// stateFor returns the run's shared state, creating it on first use.
func (r *Runtime) stateFor(ec *core.ExecutionContext) *runState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.runs[ec.RunID()]; ok {
		return state
	}
	tracker := governance.NewBudgetTracker()
	state := &runState{
		tracker:  tracker,
		enforcer: governance.NewBudgetEnforcer(tracker, ec.Budget(), r.logger),
	}
	r.runs[ec.RunID()] = state
	return state
}

func (r *Runtime) executorFor(ec *core.ExecutionContext, state *runState) *ActionExecutor {
	return NewActionExecutor(ExecutorDeps{
		Tools:       r.registry,
		Services:    r.registry,
		Permissions: r.permissions,
		Policy:      r.policy,
		Enforcer:    state.enforcer,
		Audit:       r.audit,
		Sink:        r.sink,
	}, ec, r.logger)
}

// finishRun archives the execution's lifecycle events and discards the
// run state unless it is pinned externally.
func (r *Runtime) finishRun(runID string, state *runState, lifecycle *LifecycleManager) {
	r.mu.Lock()
	r.lastEvents = lifecycle.Events()
	if !state.external {
		delete(r.runs, runID)
	}
	r.mu.Unlock()
}

// runAgent invokes the decision unit, converting panics into errors.
func (r *Runtime) runAgent(ctx context.Context, agent core.Agent, input map[string]interface{}, ec *core.ExecutionContext) (result *core.AgentResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Interface("panic", rec).
				Str("agent_id", agent.ID()).
				Msg("agent panicked")
			result = nil
			err = fmt.Errorf("agent panicked: %v", rec)
		}
	}()
	return agent.Run(ctx, input, ec)
}

// emitRunSignals reports run duration and the run span through the sink.
// Metric and trace failures never alter execution.
func (r *Runtime) emitRunSignals(ec *core.ExecutionContext, agentID, status string, elapsed time.Duration) {
	r.emitMetric(ec, core.MetricRunDuration, elapsed.Seconds(), map[string]string{
		"agent_id": agentID,
		"status":   status,
	})
	err := r.sink.EmitTrace(core.TraceEvent{
		Correlation: r.correlation(ec, time.Now().UTC().Add(-elapsed)),
		Name:        core.SpanRun,
		Duration:    elapsed,
		Attributes:  map[string]string{"agent_id": agentID, "status": status},
	})
	if err != nil {
		r.logger.Debug().Err(err).Msg("trace emission failed")
	}
}

func (r *Runtime) emitMetric(ec *core.ExecutionContext, name string, value float64, labels map[string]string) {
	err := r.sink.EmitMetric(core.MetricEvent{
		Correlation: r.correlation(ec, time.Now().UTC()),
		Name:        name,
		Value:       value,
		Labels:      labels,
	})
	if err != nil {
		r.logger.Debug().Err(err).Msg("metric emission failed")
	}
}

func (r *Runtime) correlation(ec *core.ExecutionContext, ts time.Time) core.Correlation {
	return core.Correlation{
		RunID:         ec.RunID(),
		CorrelationID: ec.CorrelationID(),
		Component:     "runtime",
		Timestamp:     ts,
	}
}
