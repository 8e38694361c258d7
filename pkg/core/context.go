// Package core defines the contracts shared by every part of the Aegis
// runtime: the immutable ExecutionContext, the canonical error taxonomy,
// the Action union, the Agent/Tool/Service interfaces, and the
// observability signal schemas.
package core

import (
	"fmt"

	"github.com/google/uuid"
)

// DefaultLocale is used when neither the caller nor the runtime
// configuration supplies a locale.
const DefaultLocale = "en-US"

// Budget declares the limits a run may consume. A nil field means the
// dimension is unbounded.
type Budget struct {
	// TimeLimitSeconds bounds the wall-clock duration of the run.
	TimeLimitSeconds *float64 `json:"time_limit_seconds,omitempty" yaml:"time_limit_seconds,omitempty"`

	// CallLimit bounds the number of governed tool/service invocations.
	CallLimit *int64 `json:"call_limit,omitempty" yaml:"call_limit,omitempty"`

	// CostLimit bounds the accumulated cost reported by targets.
	CostLimit *float64 `json:"cost_limit,omitempty" yaml:"cost_limit,omitempty"`
}

// Clone returns a deep copy of the budget.
func (b *Budget) Clone() *Budget {
	if b == nil {
		return nil
	}
	out := &Budget{}
	if b.TimeLimitSeconds != nil {
		v := *b.TimeLimitSeconds
		out.TimeLimitSeconds = &v
	}
	if b.CallLimit != nil {
		v := *b.CallLimit
		out.CallLimit = &v
	}
	if b.CostLimit != nil {
		v := *b.CostLimit
		out.CostLimit = &v
	}
	return out
}

// ExecutionContext carries the identity, grants, and limits of one run.
// It is immutable: all fields are fixed at construction and every
// accessor returns a copy of any mutable structure. Propagation produces
// a new context that shares the identity fields.
type ExecutionContext struct {
	runID         string
	correlationID string
	initiator     string
	permissions   map[string]interface{}
	budget        *Budget
	locale        string
	observability map[string]string
	metadata      map[string]interface{}
}

// ContextParams holds the caller-supplied inputs for a new context.
// RunID and CorrelationID are always generated, never accepted.
type ContextParams struct {
	// Initiator identifies the caller. Required.
	Initiator string

	// Permissions is the grant set evaluated by the permission gate.
	Permissions map[string]interface{}

	// Budget declares the run's limits. Nil means unbounded.
	Budget *Budget

	// Locale defaults to DefaultLocale when empty.
	Locale string

	// Observability carries trace propagation metadata.
	Observability map[string]string

	// Metadata is free-form and non-authoritative.
	Metadata map[string]interface{}
}

// NewExecutionContext creates a context with fresh run and correlation
// identifiers. Input maps are copied so later caller mutation cannot
// reach the context.
func NewExecutionContext(params ContextParams) (*ExecutionContext, error) {
	if params.Initiator == "" {
		return nil, &ValidationError{Field: "initiator", Message: "initiator is required"}
	}
	locale := params.Locale
	if locale == "" {
		locale = DefaultLocale
	}
	return &ExecutionContext{
		runID:         NewID(),
		correlationID: NewID(),
		initiator:     params.Initiator,
		permissions:   copyValueMap(params.Permissions),
		budget:        params.Budget.Clone(),
		locale:        locale,
		observability: copyStringMap(params.Observability),
		metadata:      copyValueMap(params.Metadata),
	}, nil
}

// RunID returns the process-unique run identifier.
func (c *ExecutionContext) RunID() string { return c.runID }

// CorrelationID returns the identifier attached to every signal of the run.
func (c *ExecutionContext) CorrelationID() string { return c.correlationID }

// Initiator returns the identity of the caller that started the run.
func (c *ExecutionContext) Initiator() string { return c.initiator }

// Locale returns the run's locale.
func (c *ExecutionContext) Locale() string { return c.locale }

// Permissions returns a copy of the grant set.
func (c *ExecutionContext) Permissions() map[string]interface{} {
	return copyValueMap(c.permissions)
}

// Budget returns a copy of the declared limits, or nil when unbounded.
func (c *ExecutionContext) Budget() *Budget { return c.budget.Clone() }

// Observability returns a copy of the trace propagation metadata.
func (c *ExecutionContext) Observability() map[string]string {
	return copyStringMap(c.observability)
}

// Metadata returns a copy of the free-form metadata.
func (c *ExecutionContext) Metadata() map[string]interface{} {
	return copyValueMap(c.metadata)
}

// Propagate returns a new context with identity, permissions, budget,
// locale, and observability carried through unchanged and metadata
// merged, update keys winning on conflict. The identity fields are
// re-validated as a contract check; a context that fails it was not
// produced by this package.
func (c *ExecutionContext) Propagate(updates map[string]interface{}) (*ExecutionContext, error) {
	if !IsValidID(c.runID) || !IsValidID(c.correlationID) {
		return nil, &ContractViolationError{
			Contract: "execution_context",
			Message:  fmt.Sprintf("context identity is corrupt: run_id=%q correlation_id=%q", c.runID, c.correlationID),
		}
	}
	merged := copyValueMap(c.metadata)
	for k, v := range updates {
		merged[k] = v
	}
	return &ExecutionContext{
		runID:         c.runID,
		correlationID: c.correlationID,
		initiator:     c.initiator,
		permissions:   copyValueMap(c.permissions),
		budget:        c.budget.Clone(),
		locale:        c.locale,
		observability: copyStringMap(c.observability),
		metadata:      merged,
	}, nil
}

// NewID returns a fresh UUIDv4 string.
func NewID() string {
	return uuid.New().String()
}

// IsValidID reports whether s parses as a UUID.
func IsValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func copyValueMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]interface{}); ok {
			inner := make(map[string]interface{}, len(nested))
			for nk, nv := range nested {
				inner[nk] = nv
			}
			out[k] = inner
			continue
		}
		out[k] = v
	}
	return out
}

func copyStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
