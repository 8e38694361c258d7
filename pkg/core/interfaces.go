package core

import "context"

// Status values shared by agent, tool, and service results.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailure = "failure"
)

// AgentResult is the outcome of one decision-unit run. Actions lists the
// governed invocations the agent requests; the runtime executes them and
// appends any action failures to Errors, so a partially successful run is
// representable.
type AgentResult struct {
	// Status is one of the Status constants.
	Status string `json:"status"`

	// Output is the agent's decision payload.
	Output map[string]interface{} `json:"output,omitempty"`

	// Actions are the governed invocations requested by the agent.
	Actions []Action `json:"actions,omitempty"`

	// Errors collects canonical errors from the run and its actions.
	Errors []*Error `json:"errors,omitempty"`

	// Metrics carries agent-reported measurements.
	Metrics map[string]float64 `json:"metrics,omitempty"`

	// ActionResults holds the envelope for each executed action, in
	// request order.
	ActionResults []*ActionResult `json:"action_results,omitempty"`
}

// TargetResult is the outcome of a tool or service invocation as reported
// by the target itself.
type TargetResult struct {
	// Status is one of the Status constants.
	Status string `json:"status"`

	// Output is the target's payload.
	Output map[string]interface{} `json:"output,omitempty"`

	// Errors carries target-reported canonical errors.
	Errors []*Error `json:"errors,omitempty"`

	// Metrics carries target-reported measurements. A "cost" entry is
	// recorded against the run's budget.
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// ActionResult is the uniform envelope the executor returns for every
// governed action, tool or service alike.
type ActionResult struct {
	// Type is the action variant that produced this result.
	Type ActionType `json:"type"`

	// ResourceID is the target tool or service id.
	ResourceID string `json:"resource_id"`

	// Verb is the service operation, empty for tools.
	Verb string `json:"verb,omitempty"`

	// Status is one of the Status constants.
	Status string `json:"status"`

	// Output is the target's payload.
	Output map[string]interface{} `json:"output,omitempty"`

	// Errors carries the canonical errors of the invocation.
	Errors []*Error `json:"errors,omitempty"`

	// Metrics carries target-reported measurements.
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Agent is a pluggable decision unit. Run must be synchronous and must
// not touch external resources directly; side effects are requested
// through the returned actions.
type Agent interface {
	// ID returns the unique agent identifier.
	ID() string

	// Capabilities returns the capability names this agent provides.
	Capabilities() []string

	// Run produces a decision and the actions it requires.
	Run(ctx context.Context, input map[string]interface{}, ec *ExecutionContext) (*AgentResult, error)
}

// Tool is a side-effecting unit invoked only through the governed
// pipeline.
type Tool interface {
	// ID returns the unique tool identifier.
	ID() string

	// PermissionsRequired returns the grants the caller must hold.
	PermissionsRequired() []string

	// Execute performs the tool's effect.
	Execute(ctx context.Context, input map[string]interface{}, ec *ExecutionContext) (*TargetResult, error)
}

// ServiceInput is the request handed to a service.
type ServiceInput struct {
	// Action is the operation verb.
	Action string `json:"action"`

	// Payload is the operation input.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Service is a side-effecting unit that performs its own permission
// resolution per operation verb.
type Service interface {
	// ID returns the unique service identifier.
	ID() string

	// CheckPermission reports whether the context may perform the verb.
	CheckPermission(action string, ec *ExecutionContext) bool

	// Execute performs the requested operation.
	Execute(ctx context.Context, input ServiceInput, ec *ExecutionContext) (*TargetResult, error)
}

// AgentRegistry is a read-mostly lookup table of decision units.
type AgentRegistry interface {
	// GetAgent returns the agent with the given id.
	GetAgent(id string) (Agent, bool)

	// ListAgents returns all registered agents.
	ListAgents() []Agent
}

// ToolRegistry is a read-mostly lookup table of tools.
type ToolRegistry interface {
	// GetTool returns the tool with the given id.
	GetTool(id string) (Tool, bool)
}

// ServiceRegistry is a read-mostly lookup table of services.
type ServiceRegistry interface {
	// GetService returns the service with the given id.
	GetService(id string) (Service, bool)
}
