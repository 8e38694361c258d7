package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aegis-runtime/aegis/pkg/core"
	"github.com/aegis-runtime/aegis/pkg/runtime"
)

type flowAgent struct {
	id    string
	calls int
	run   func(ctx context.Context, input map[string]interface{}, ec *core.ExecutionContext) (*core.AgentResult, error)
}

func (a *flowAgent) ID() string             { return a.id }
func (a *flowAgent) Capabilities() []string { return nil }

func (a *flowAgent) Run(ctx context.Context, input map[string]interface{}, ec *core.ExecutionContext) (*core.AgentResult, error) {
	a.calls++
	if a.run != nil {
		return a.run(ctx, input, ec)
	}
	return &core.AgentResult{Status: core.StatusSuccess, Output: map[string]interface{}{"agent": a.id}}, nil
}

type flowTool struct {
	id    string
	calls int
}

func (t *flowTool) ID() string                    { return t.id }
func (t *flowTool) PermissionsRequired() []string { return nil }

func (t *flowTool) Execute(_ context.Context, input map[string]interface{}, _ *core.ExecutionContext) (*core.TargetResult, error) {
	t.calls++
	return &core.TargetResult{Status: core.StatusSuccess, Output: map[string]interface{}{"echo": input}}, nil
}

func newFlowRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()
	rt, err := runtime.New(runtime.Options{
		Registry: runtime.NewRegistry(),
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("runtime.New() error = %v", err)
	}
	return rt
}

func newFlowContext(t *testing.T, budget *core.Budget) *core.ExecutionContext {
	t.Helper()
	ec, err := core.NewExecutionContext(core.ContextParams{
		Initiator: "user:flow-test",
		Budget:    budget,
	})
	if err != nil {
		t.Fatalf("NewExecutionContext() error = %v", err)
	}
	return ec
}

func TestEngineExecutesNodesInOrder(t *testing.T) {
	rt := newFlowRuntime(t)
	first := &flowAgent{id: "planner"}
	second := &flowAgent{id: "writer"}
	if err := rt.Registry().RegisterAgent(first); err != nil {
		t.Fatal(err)
	}
	if err := rt.Registry().RegisterAgent(second); err != nil {
		t.Fatal(err)
	}

	def := &Definition{
		FlowID:     "two-step",
		Version:    "1.0.0",
		Entrypoint: "plan",
		Nodes: map[string]Node{
			"plan":  {Kind: NodeKindAgent, AgentID: "planner"},
			"write": {Kind: NodeKindAgent, AgentID: "writer"},
		},
		Transitions: []Transition{
			{From: "plan", To: "write"},
		},
	}

	engine, err := NewEngine(def, rt, newFlowContext(t, nil), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	result, err := engine.Execute(context.Background(), map[string]interface{}{"topic": "go"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Status != "completed" {
		t.Errorf("Status = %q, want completed", result.Status)
	}
	if result.FinalNode != "write" {
		t.Errorf("FinalNode = %q, want write", result.FinalNode)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("agent calls = %d, %d, want 1, 1", first.calls, second.calls)
	}

	// Node entries appear in execution order.
	var nodes []string
	for _, entry := range result.History {
		if entry.NodeID != "" {
			nodes = append(nodes, entry.NodeID)
		}
	}
	if len(nodes) != 2 || nodes[0] != "plan" || nodes[1] != "write" {
		t.Errorf("node history = %v, want [plan write]", nodes)
	}
	if _, ok := result.State["node_plan_result"]; !ok {
		t.Error("state missing node_plan_result")
	}
}

func TestEngineConditionNodeBranches(t *testing.T) {
	rt := newFlowRuntime(t)
	yes := &flowAgent{id: "yes"}
	no := &flowAgent{id: "no"}
	if err := rt.Registry().RegisterAgent(yes); err != nil {
		t.Fatal(err)
	}
	if err := rt.Registry().RegisterAgent(no); err != nil {
		t.Fatal(err)
	}

	def := &Definition{
		FlowID:     "branching",
		Version:    "1.0.0",
		Entrypoint: "check",
		Nodes: map[string]Node{
			"check":  {Kind: NodeKindCondition, Condition: "approved"},
			"accept": {Kind: NodeKindAgent, AgentID: "yes"},
			"reject": {Kind: NodeKindAgent, AgentID: "no"},
		},
		Transitions: []Transition{
			{From: "check", To: "accept", Condition: map[string]interface{}{"result": true}},
			{From: "check", To: "reject", Condition: map[string]interface{}{"result": false}},
		},
	}

	engine, err := NewEngine(def, rt, newFlowContext(t, nil), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	engine.state.UpdateState(map[string]interface{}{"approved": true})

	result, err := engine.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.FinalNode != "accept" {
		t.Errorf("FinalNode = %q, want accept", result.FinalNode)
	}
	if yes.calls != 1 || no.calls != 0 {
		t.Errorf("agent calls = %d, %d, want 1, 0", yes.calls, no.calls)
	}
}

func TestEngineStarlarkCondition(t *testing.T) {
	rt := newFlowRuntime(t)
	agent := &flowAgent{id: "downstream"}
	if err := rt.Registry().RegisterAgent(agent); err != nil {
		t.Fatal(err)
	}

	def := &Definition{
		FlowID:     "starlark",
		Version:    "1.0.0",
		Entrypoint: "check",
		Nodes: map[string]Node{
			"check": {Kind: NodeKindCondition, Expr: `input["score"] > 3`},
			"done":  {Kind: NodeKindAgent, AgentID: "downstream"},
		},
		Transitions: []Transition{
			{From: "check", To: "done", Condition: map[string]interface{}{"result": true}},
		},
	}

	engine, err := NewEngine(def, rt, newFlowContext(t, nil), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	result, err := engine.Execute(context.Background(), map[string]interface{}{"score": 5})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.FinalNode != "done" {
		t.Errorf("FinalNode = %q, want done", result.FinalNode)
	}
	if agent.calls != 1 {
		t.Errorf("agent ran %d times, want 1", agent.calls)
	}
}

func TestEngineToolNodesShareRunBudget(t *testing.T) {
	rt := newFlowRuntime(t)
	tool := &flowTool{id: "echo"}
	if err := rt.Registry().RegisterTool(tool); err != nil {
		t.Fatal(err)
	}

	def := &Definition{
		FlowID:     "budgeted",
		Version:    "1.0.0",
		Entrypoint: "first",
		Nodes: map[string]Node{
			"first":  {Kind: NodeKindTool, ToolID: "echo"},
			"second": {Kind: NodeKindTool, ToolID: "echo"},
		},
		Transitions: []Transition{
			{From: "first", To: "second"},
		},
	}

	limit := int64(1)
	ec := newFlowContext(t, &core.Budget{CallLimit: &limit})
	engine, err := NewEngine(def, rt, ec, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	_, err = engine.Execute(context.Background(), nil)
	var ferr *core.FlowExecutionError
	if !errors.As(err, &ferr) {
		t.Fatalf("error = %T, want *core.FlowExecutionError", err)
	}
	if ferr.NodeID != "second" {
		t.Errorf("failed node = %q, want second", ferr.NodeID)
	}
	var berr *core.BudgetExceededError
	if !errors.As(err, &berr) {
		t.Fatalf("cause = %v, want wrapped *core.BudgetExceededError", err)
	}
	if tool.calls != 1 {
		t.Errorf("tool ran %d times, want 1: both nodes draw from one tracker", tool.calls)
	}
}

func TestEngineIterationCap(t *testing.T) {
	rt := newFlowRuntime(t)
	if err := rt.Registry().RegisterAgent(&flowAgent{id: "looper"}); err != nil {
		t.Fatal(err)
	}

	def := &Definition{
		FlowID:     "cyclic",
		Version:    "1.0.0",
		Entrypoint: "spin",
		Nodes: map[string]Node{
			"spin": {Kind: NodeKindAgent, AgentID: "looper"},
		},
		Transitions: []Transition{
			{From: "spin", To: "spin"},
		},
	}

	engine, err := NewEngine(def, rt, newFlowContext(t, nil), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	_, err = engine.Execute(context.Background(), nil)
	var ferr *core.FlowExecutionError
	if !errors.As(err, &ferr) {
		t.Fatalf("error = %T, want *core.FlowExecutionError", err)
	}
}

func TestEngineCompletesOnFinalIteration(t *testing.T) {
	rt := newFlowRuntime(t)

	// A linear chain whose last node is reached on exactly the 100th
	// iteration. Finishing at the cap is a normal completion.
	nodes := make(map[string]Node, maxIterations)
	var transitions []Transition
	for i := 1; i <= maxIterations; i++ {
		id := fmt.Sprintf("step%03d", i)
		nodes[id] = Node{Kind: NodeKindCondition, Condition: true}
		if i < maxIterations {
			transitions = append(transitions, Transition{
				From: id,
				To:   fmt.Sprintf("step%03d", i+1),
			})
		}
	}

	def := &Definition{
		FlowID:      "long-chain",
		Version:     "1.0.0",
		Entrypoint:  "step001",
		Nodes:       nodes,
		Transitions: transitions,
	}

	engine, err := NewEngine(def, rt, newFlowContext(t, nil), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	result, err := engine.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Status != "completed" {
		t.Errorf("Status = %q, want completed", result.Status)
	}
	if want := fmt.Sprintf("step%03d", maxIterations); result.FinalNode != want {
		t.Errorf("FinalNode = %q, want %s", result.FinalNode, want)
	}
}

func TestEngineUnknownNodeFails(t *testing.T) {
	rt := newFlowRuntime(t)
	if err := rt.Registry().RegisterAgent(&flowAgent{id: "a"}); err != nil {
		t.Fatal(err)
	}

	def := &Definition{
		FlowID:     "bad-kind",
		Version:    "1.0.0",
		Entrypoint: "start",
		Nodes: map[string]Node{
			"start": {Kind: "workflow", AgentID: "a"},
		},
	}

	_, err := NewEngine(def, rt, newFlowContext(t, nil), zerolog.Nop())
	var lerr *core.FlowLoadError
	if !errors.As(err, &lerr) {
		t.Fatalf("error = %T, want *core.FlowLoadError for unknown node kind", err)
	}
}
