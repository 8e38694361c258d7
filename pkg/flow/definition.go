// Package flow executes declarative orchestration graphs. A flow names
// its nodes and the transitions between them; the engine walks the graph
// deterministically, delegating agent and tool nodes to the governed
// runtime so every side effect passes the same pipeline as a direct run.
package flow

import (
	"fmt"
)

// Node kinds understood by the engine.
const (
	NodeKindAgent     = "agent"
	NodeKindTool      = "tool"
	NodeKindCondition = "condition"
)

// Node is one step of a flow.
type Node struct {
	// Kind is the node kind: agent, tool, or condition. Empty defaults
	// to agent.
	Kind string `yaml:"kind"`

	// AgentID selects the agent for agent nodes.
	AgentID string `yaml:"agent_id,omitempty"`

	// ToolID selects the tool for tool nodes.
	ToolID string `yaml:"tool_id,omitempty"`

	// Input is the agent input for agent nodes.
	Input map[string]interface{} `yaml:"input,omitempty"`

	// Payload is the tool payload for tool nodes.
	Payload map[string]interface{} `yaml:"payload,omitempty"`

	// InputFromState lists state keys merged into the input or payload
	// before execution.
	InputFromState []string `yaml:"input_from_state,omitempty"`

	// Condition drives condition nodes: a string tests that the named
	// state key is set and truthy; a map tests equality of every entry
	// against the state.
	Condition interface{} `yaml:"condition,omitempty"`

	// Expr is a Starlark expression evaluated against the flow state.
	// It is an alternative to Condition for condition nodes.
	Expr string `yaml:"expr,omitempty"`
}

// Transition connects two nodes. Transitions are evaluated in declaration
// order; the first one whose condition passes decides the next node.
type Transition struct {
	// From is the source node id.
	From string `yaml:"from"`

	// To is the target node id.
	To string `yaml:"to"`

	// Condition, when set, must match the source node's result for the
	// transition to fire. Every entry is compared for equality.
	Condition map[string]interface{} `yaml:"condition,omitempty"`
}

// Definition is a complete declarative flow.
type Definition struct {
	// FlowID identifies the flow.
	FlowID string `yaml:"flow_id"`

	// Version identifies the flow revision.
	Version string `yaml:"version"`

	// Entrypoint is the id of the first node executed.
	Entrypoint string `yaml:"entrypoint"`

	// Nodes holds the node definitions keyed by node id.
	Nodes map[string]Node `yaml:"nodes"`

	// Transitions lists the edges between nodes in evaluation order.
	Transitions []Transition `yaml:"transitions,omitempty"`

	// ErrorHandling carries error handling configuration.
	ErrorHandling map[string]interface{} `yaml:"error_handling,omitempty"`
}

// Validate checks the definition for structural defects: missing
// identifiers, an unknown entrypoint, malformed nodes, and transitions
// that reference nodes the flow does not declare.
func (d *Definition) Validate() error {
	if d.FlowID == "" {
		return fmt.Errorf("flow_id is required")
	}
	if d.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if len(d.Nodes) == 0 {
		return fmt.Errorf("at least one node is required")
	}
	if _, ok := d.Nodes[d.Entrypoint]; !ok {
		return fmt.Errorf("entrypoint %q is not a declared node", d.Entrypoint)
	}

	for id, node := range d.Nodes {
		switch node.Kind {
		case "", NodeKindAgent:
			if node.AgentID == "" {
				return fmt.Errorf("agent node %q missing agent_id", id)
			}
		case NodeKindTool:
			if node.ToolID == "" {
				return fmt.Errorf("tool node %q missing tool_id", id)
			}
		case NodeKindCondition:
			if node.Condition == nil && node.Expr == "" {
				return fmt.Errorf("condition node %q missing condition or expr", id)
			}
		default:
			return fmt.Errorf("node %q has unknown kind %q", id, node.Kind)
		}
	}

	for i, tr := range d.Transitions {
		if _, ok := d.Nodes[tr.From]; !ok {
			return fmt.Errorf("transition %d references unknown source node %q", i, tr.From)
		}
		if _, ok := d.Nodes[tr.To]; !ok {
			return fmt.Errorf("transition %d references unknown target node %q", i, tr.To)
		}
	}

	return nil
}
