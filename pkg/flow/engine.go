package flow

import (
	"context"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/aegis-runtime/aegis/pkg/core"
	"github.com/aegis-runtime/aegis/pkg/runtime"
)

// maxIterations bounds the engine loop so a cyclic flow cannot spin
// forever.
const maxIterations = 100

// Result is the outcome of a completed flow execution.
type Result struct {
	Status    string                 `json:"status"`
	FlowID    string                 `json:"flow_id"`
	FinalNode string                 `json:"final_node"`
	State     map[string]interface{} `json:"state"`
	History   []HistoryEntry         `json:"history"`
}

// Engine walks a flow definition node by node. Agent nodes run through
// the runtime's governed Execute path and tool nodes through
// ExecuteAction, so every node of one flow shares the run's budget
// tracker and audit trail. Execution is deterministic: transitions are
// evaluated in declaration order and the first match wins.
type Engine struct {
	def        *Definition
	rt         *runtime.Runtime
	ec         *core.ExecutionContext
	state      *StateManager
	conditions *ConditionEvaluator
	logger     zerolog.Logger
}

// NewEngine creates an engine for one flow execution.
func NewEngine(def *Definition, rt *runtime.Runtime, ec *core.ExecutionContext, logger zerolog.Logger) (*Engine, error) {
	if def == nil {
		return nil, &core.ValidationError{Field: "definition", Message: "flow definition is required"}
	}
	if err := def.Validate(); err != nil {
		return nil, &core.FlowLoadError{FlowID: def.FlowID, Message: err.Error(), Err: err}
	}
	if rt == nil {
		return nil, &core.ValidationError{Field: "runtime", Message: "runtime is required"}
	}
	if ec == nil {
		return nil, &core.ValidationError{Field: "context", Message: "execution context is required"}
	}

	return &Engine{
		def:        def,
		rt:         rt,
		ec:         ec,
		state:      NewStateManager(def.Entrypoint, nil),
		conditions: NewConditionEvaluator(0),
		logger: logger.With().
			Str("component", "flow.engine").
			Str("flow_id", def.FlowID).
			Str("run_id", ec.RunID()).
			Logger(),
	}, nil
}

// State returns a snapshot of the flow's current state.
func (e *Engine) State() State {
	return e.state.Snapshot()
}

// Execute runs the flow from its entrypoint until no transition matches
// or the iteration cap is reached. The run's budget state is pinned for
// the whole flow so agent and tool nodes draw from one tracker.
func (e *Engine) Execute(ctx context.Context, input map[string]interface{}) (*Result, error) {
	if input == nil {
		input = map[string]interface{}{}
	}
	e.state.UpdateState(map[string]interface{}{"input": input})

	e.rt.BeginRun(e.ec)
	defer e.rt.ReleaseRun(e.ec.RunID())

	e.logger.Info().
		Str("entrypoint", e.def.Entrypoint).
		Msg("flow execution started")

	current := e.def.Entrypoint
	iteration := 0
	completed := false

	for iteration < maxIterations {
		iteration++

		node, ok := e.def.Nodes[current]
		if !ok {
			return nil, e.fail(current, fmt.Errorf("node %q not found in flow", current))
		}

		e.logger.Debug().
			Str("node_id", current).
			Int("iteration", iteration).
			Msg("executing node")

		result, err := e.executeNode(ctx, current, node)
		if err != nil {
			return nil, e.fail(current, err)
		}

		e.state.UpdateState(map[string]interface{}{
			fmt.Sprintf("node_%s_result", current): result,
		})
		e.state.RecordNode(current, iteration, result)

		next, found := e.findNextNode(current, result)
		if !found {
			e.logger.Info().
				Str("final_node", current).
				Int("iterations", iteration).
				Msg("flow execution completed")
			completed = true
			break
		}

		e.state.TransitionTo(next)
		current = next
	}

	if !completed {
		return nil, e.fail(current, fmt.Errorf("flow exceeded maximum iterations (%d)", maxIterations))
	}

	snapshot := e.state.Snapshot()
	return &Result{
		Status:    "completed",
		FlowID:    e.def.FlowID,
		FinalNode: snapshot.CurrentNode,
		State:     snapshot.StateData,
		History:   snapshot.History,
	}, nil
}

func (e *Engine) fail(nodeID string, err error) error {
	e.logger.Error().
		Str("node_id", nodeID).
		Err(err).
		Msg("flow execution failed")
	return &core.FlowExecutionError{FlowID: e.def.FlowID, NodeID: nodeID, Err: err}
}

func (e *Engine) executeNode(ctx context.Context, nodeID string, node Node) (map[string]interface{}, error) {
	switch node.Kind {
	case "", NodeKindAgent:
		return e.executeAgentNode(ctx, nodeID, node)
	case NodeKindTool:
		return e.executeToolNode(ctx, nodeID, node)
	case NodeKindCondition:
		return e.executeConditionNode(ctx, nodeID, node)
	default:
		return nil, fmt.Errorf("unknown node kind %q", node.Kind)
	}
}

func (e *Engine) executeAgentNode(ctx context.Context, nodeID string, node Node) (map[string]interface{}, error) {
	if node.AgentID == "" {
		return nil, fmt.Errorf("agent node %q missing agent_id", nodeID)
	}

	input := e.mergeStateInputs(node.Input, node.InputFromState)

	result, err := e.rt.Execute(ctx, runtime.ExecuteRequest{
		AgentID: node.AgentID,
		Input:   input,
		Context: e.ec,
	})
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"kind":     NodeKindAgent,
		"agent_id": node.AgentID,
		"status":   result.Status,
		"output":   result.Output,
	}, nil
}

func (e *Engine) executeToolNode(ctx context.Context, nodeID string, node Node) (map[string]interface{}, error) {
	if node.ToolID == "" {
		return nil, fmt.Errorf("tool node %q missing tool_id", nodeID)
	}

	payload := e.mergeStateInputs(node.Payload, node.InputFromState)

	result, err := e.rt.ExecuteAction(ctx, core.NewToolAction(node.ToolID, payload), e.ec)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"kind":    NodeKindTool,
		"tool_id": node.ToolID,
		"status":  result.Status,
		"output":  result.Output,
	}, nil
}

// mergeStateInputs copies the node's literal input and overlays the
// requested state keys.
func (e *Engine) mergeStateInputs(base map[string]interface{}, keys []string) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(keys))
	for k, v := range base {
		merged[k] = v
	}
	if len(keys) > 0 {
		state := e.state.StateData()
		for _, key := range keys {
			if v, ok := state[key]; ok {
				merged[key] = v
			}
		}
	}
	return merged
}

func (e *Engine) executeConditionNode(ctx context.Context, nodeID string, node Node) (map[string]interface{}, error) {
	state := e.state.StateData()

	var result bool
	switch {
	case node.Expr != "":
		value, err := e.conditions.Evaluate(ctx, node.Expr, state)
		if err != nil {
			return nil, err
		}
		result = value
	case node.Condition != nil:
		result = evaluateCondition(node.Condition, state)
	default:
		return nil, fmt.Errorf("condition node %q missing condition or expr", nodeID)
	}

	return map[string]interface{}{
		"kind":   NodeKindCondition,
		"result": result,
	}, nil
}

// evaluateCondition tests a literal condition against the state: a string
// names a key that must be set and truthy, a map requires equality of
// every entry.
func evaluateCondition(condition interface{}, state map[string]interface{}) bool {
	switch cond := condition.(type) {
	case string:
		value, ok := state[cond]
		return ok && truthy(value)
	case map[string]interface{}:
		for k, want := range cond {
			if !reflect.DeepEqual(state[k], want) {
				return false
			}
		}
		return true
	case bool:
		return cond
	default:
		return condition != nil
	}
}

func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case []interface{}:
		return len(val) > 0
	case map[string]interface{}:
		return len(val) > 0
	default:
		return true
	}
}

// findNextNode picks the first transition out of the current node whose
// condition matches the node result. No match means the flow is done.
func (e *Engine) findNextNode(current string, nodeResult map[string]interface{}) (string, bool) {
	for _, tr := range e.def.Transitions {
		if tr.From != current {
			continue
		}
		if tr.Condition != nil && !matchesResult(tr.Condition, nodeResult) {
			continue
		}
		return tr.To, true
	}
	return "", false
}

func matchesResult(condition, result map[string]interface{}) bool {
	for k, want := range condition {
		if !looseEqual(result[k], want) {
			return false
		}
	}
	return true
}

// looseEqual compares a node result value with a YAML literal, treating
// numeric types as interchangeable.
func looseEqual(got, want interface{}) bool {
	if reflect.DeepEqual(got, want) {
		return true
	}
	gf, gok := asFloat(got)
	wf, wok := asFloat(want)
	if gok && wok {
		return gf == wf
	}
	gs, gok := got.(string)
	ws, wok := want.(string)
	if gok && wok {
		return gs == ws
	}
	return fmt.Sprintf("%v", got) == fmt.Sprintf("%v", want)
}

func asFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}
