package core

import (
	"fmt"
	"strings"
	"time"
)

// ErrorType is the canonical error category every component emits.
type ErrorType string

const (
	// ErrorTypeValidation covers invalid configuration, schemas, routing
	// selections, and flow definitions.
	ErrorTypeValidation ErrorType = "validation_error"

	// ErrorTypePermission covers missing grants and policy denials.
	ErrorTypePermission ErrorType = "permission_error"

	// ErrorTypeBudgetExceeded covers any exhausted budget dimension.
	ErrorTypeBudgetExceeded ErrorType = "budget_exceeded"

	// ErrorTypeTimeout covers operations that exceeded their deadline.
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeExecutionFailure covers failures inside governed targets
	// and the orchestration around them.
	ErrorTypeExecutionFailure ErrorType = "execution_failure"

	// ErrorTypeDependencyFailure covers failures of external collaborators.
	ErrorTypeDependencyFailure ErrorType = "dependency_failure"
)

// Severity grades the impact of a canonical error.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error is the canonical error shape surfaced to callers and recorded in
// results. The classifier produces it from the typed errors below; no
// component outside the classifier should inspect raw error types.
type Error struct {
	// ID is a fresh identifier for this error instance.
	ID string `json:"error_id"`

	// Type is the canonical category.
	Type ErrorType `json:"error_type"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Severity grades the impact.
	Severity Severity `json:"severity"`

	// Retryable reports whether a retry may succeed.
	Retryable bool `json:"retryable"`

	// Source is the component-qualified origin, e.g. "runtime.executor".
	Source string `json:"source"`

	// Metadata carries category-specific key/values.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Timestamp records when the error was classified.
	Timestamp time.Time `json:"timestamp"`

	// Cause is the original error, preserved for diagnosability.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s (source=%s): %s", e.Type, e.Severity, e.Source, e.Message)
}

// Unwrap returns the original error.
func (e *Error) Unwrap() error { return e.Cause }

// ValidationError reports invalid caller or configuration input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// PermissionError reports a failed permission check. Missing always
// carries the complete missing set, not just the first name.
type PermissionError struct {
	// Missing lists every required permission the grant set lacks.
	Missing []string

	// AvailableKeys lists the top-level keys present in the grant set.
	AvailableKeys []string

	// ResourceID names the governed target, when known.
	ResourceID string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("missing permissions: %s (available keys: %s)",
		strings.Join(e.Missing, ", "), strings.Join(e.AvailableKeys, ", "))
}

// PolicyViolationError reports a policy DENY or REQUIRE_APPROVAL outcome.
type PolicyViolationError struct {
	// Action is the evaluated action string, e.g. "tool.execute".
	Action string

	// Outcome is the policy decision that blocked the action.
	Outcome string

	// ResourceID names the governed target, when known.
	ResourceID string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy outcome %s for action %q on %q", e.Outcome, e.Action, e.ResourceID)
}

// PolicyError reports a policy configuration defect, such as an outcome
// string that does not parse. It is not a denial.
type PolicyError struct {
	Pattern string
	Message string
}

func (e *PolicyError) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("policy %q misconfigured: %s", e.Pattern, e.Message)
	}
	return fmt.Sprintf("policy misconfigured: %s", e.Message)
}

// BudgetExceededError reports the first exhausted budget dimension.
type BudgetExceededError struct {
	// BudgetType is "time", "calls", or "cost".
	BudgetType string

	// Limit is the configured bound for the dimension.
	Limit float64

	// Consumed is the amount consumed at check time.
	Consumed float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: %s limit %g, consumed %g", e.BudgetType, e.Limit, e.Consumed)
}

// RoutingError reports a failed agent selection.
type RoutingError struct {
	AgentID              string
	RequiredCapabilities []string
	Message              string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing failed: %s", e.Message)
}

// TimeoutError reports an operation that exceeded its deadline.
type TimeoutError struct {
	Operation string
	Limit     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %q timed out after %s", e.Operation, e.Limit)
}

// ActionExecutionError wraps any failure raised while executing a
// governed action, including failures of the target itself. The target's
// native error never leaks to the caller unwrapped.
type ActionExecutionError struct {
	ActionType string
	ResourceID string
	Err        error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %s/%s failed: %v", e.ActionType, e.ResourceID, e.Err)
}

// Unwrap returns the wrapped cause.
func (e *ActionExecutionError) Unwrap() error { return e.Err }

// AuditEmissionError reports that a governance decision could not be
// audited. An unaudited decision must not silently pass as audited.
type AuditEmissionError struct {
	EventType string
	Err       error
}

func (e *AuditEmissionError) Error() string {
	return fmt.Sprintf("audit emission failed for %s: %v", e.EventType, e.Err)
}

// Unwrap returns the sink error.
func (e *AuditEmissionError) Unwrap() error { return e.Err }

// ConfigurationError reports an invalid or unloadable configuration.
type ConfigurationError struct {
	Path    string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("configuration %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("configuration: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error { return e.Err }

// FlowLoadError reports an unloadable or invalid flow definition.
type FlowLoadError struct {
	FlowID  string
	Message string
	Err     error
}

func (e *FlowLoadError) Error() string {
	return fmt.Sprintf("flow %q failed to load: %s", e.FlowID, e.Message)
}

// Unwrap returns the underlying error.
func (e *FlowLoadError) Unwrap() error { return e.Err }

// FlowExecutionError reports a failure while running a loaded flow.
type FlowExecutionError struct {
	FlowID string
	NodeID string
	Err    error
}

func (e *FlowExecutionError) Error() string {
	return fmt.Sprintf("flow %q failed at node %q: %v", e.FlowID, e.NodeID, e.Err)
}

// Unwrap returns the underlying error.
func (e *FlowExecutionError) Unwrap() error { return e.Err }

// ContractViolationError reports a broken internal invariant. It should
// be unreachable by construction.
type ContractViolationError struct {
	Contract string
	Message  string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("contract %q violated: %s", e.Contract, e.Message)
}
