package core

import "time"

// ActionType discriminates the two action variants.
type ActionType string

const (
	// ActionTypeTool requests a tool invocation.
	ActionTypeTool ActionType = "tool"

	// ActionTypeService requests a service operation.
	ActionTypeService ActionType = "service"
)

// Action is a governed invocation request emitted by a decision unit.
// It is a closed union discriminated by Type: tool actions carry ToolID,
// service actions carry ServiceID and Verb. Actions carry no permissions
// of their own; required permissions come from the registered target.
type Action struct {
	// Type selects the variant.
	Type ActionType `json:"type"`

	// ToolID names the target tool. Tool actions only.
	ToolID string `json:"tool_id,omitempty"`

	// ServiceID names the target service. Service actions only.
	ServiceID string `json:"service_id,omitempty"`

	// Verb is the operation requested from a service.
	Verb string `json:"verb,omitempty"`

	// Payload is the target's input.
	Payload map[string]interface{} `json:"payload,omitempty"`

	// Timeout is an optional per-action deadline handed to the target.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Idempotent marks the action safe to retry.
	Idempotent bool `json:"idempotent,omitempty"`
}

// NewToolAction builds a tool-invocation action.
func NewToolAction(toolID string, payload map[string]interface{}) Action {
	return Action{Type: ActionTypeTool, ToolID: toolID, Payload: payload}
}

// NewServiceAction builds a service-invocation action.
func NewServiceAction(serviceID, verb string, payload map[string]interface{}) Action {
	return Action{Type: ActionTypeService, ServiceID: serviceID, Verb: verb, Payload: payload}
}

// ResourceID returns the target identifier for the active variant.
func (a Action) ResourceID() string {
	if a.Type == ActionTypeService {
		return a.ServiceID
	}
	return a.ToolID
}

// PolicyAction returns the action string evaluated by the policy engine,
// "tool.execute" for tools and "service.<verb>" for services.
func (a Action) PolicyAction() string {
	if a.Type == ActionTypeService {
		return string(ActionTypeService) + "." + a.Verb
	}
	return string(ActionTypeTool) + ".execute"
}

// Validate checks that the action is a well-formed member of the union.
func (a Action) Validate() error {
	switch a.Type {
	case ActionTypeTool:
		if a.ToolID == "" {
			return &ValidationError{Field: "tool_id", Message: "tool action requires a tool_id"}
		}
		if a.ServiceID != "" || a.Verb != "" {
			return &ValidationError{Field: "type", Message: "tool action must not carry service fields"}
		}
	case ActionTypeService:
		if a.ServiceID == "" {
			return &ValidationError{Field: "service_id", Message: "service action requires a service_id"}
		}
		if a.Verb == "" {
			return &ValidationError{Field: "verb", Message: "service action requires a verb"}
		}
		if a.ToolID != "" {
			return &ValidationError{Field: "type", Message: "service action must not carry tool fields"}
		}
	default:
		return &ValidationError{Field: "type", Message: "unknown action type " + string(a.Type)}
	}
	return nil
}
