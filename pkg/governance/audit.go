package governance

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-runtime/aegis/pkg/core"
)

// Decision outcome strings recorded in audit events.
const (
	DecisionGranted = "granted"
	DecisionDenied  = "denied"
)

// AuditEmitter records one audit event per governance decision, grants
// included, through the configured observability sink. A failed emission
// is wrapped as AuditEmissionError so an unaudited decision never
// silently passes as audited.
type AuditEmitter struct {
	sink   core.ObservabilitySink
	logger zerolog.Logger
}

// NewAuditEmitter creates an emitter writing to the given sink.
func NewAuditEmitter(sink core.ObservabilitySink, logger zerolog.Logger) *AuditEmitter {
	return &AuditEmitter{
		sink:   sink,
		logger: logger.With().Str("component", "governance.audit").Logger(),
	}
}

// PermissionDecision records the outcome of a permission check.
func (a *AuditEmitter) PermissionDecision(ec *core.ExecutionContext, action, resource, outcome string, permissions []string, metadata map[string]interface{}) error {
	md := cloneMetadata(metadata)
	md["permissions"] = permissions
	return a.emit(ec, "permission_decision", action, resource, outcome, joinNames(permissions), md)
}

// PolicyDecision records the outcome of a policy evaluation.
func (a *AuditEmitter) PolicyDecision(ec *core.ExecutionContext, action, resource string, outcome PolicyOutcome, pattern string, metadata map[string]interface{}) error {
	return a.emit(ec, "policy_decision", action, resource, string(outcome), pattern, cloneMetadata(metadata))
}

// BudgetExhausted records a budget exhaustion at an admission gate.
func (a *AuditEmitter) BudgetExhausted(ec *core.ExecutionContext, action, resource string, cause *core.BudgetExceededError) error {
	md := map[string]interface{}{
		"budget_type": cause.BudgetType,
		"limit":       cause.Limit,
		"consumed":    cause.Consumed,
	}
	return a.emit(ec, "budget_exhausted", action, resource, DecisionDenied, cause.BudgetType, md)
}

// Decision records a generic governance decision.
func (a *AuditEmitter) Decision(ec *core.ExecutionContext, action, resource, outcome string, metadata map[string]interface{}) error {
	return a.emit(ec, "governance_decision", action, resource, outcome, "", cloneMetadata(metadata))
}

func (a *AuditEmitter) emit(ec *core.ExecutionContext, eventType, action, resource, outcome, policyOrPermission string, metadata map[string]interface{}) error {
	metadata["event_type"] = eventType
	event := core.AuditEvent{
		EventID:            core.NewID(),
		RunID:              ec.RunID(),
		CorrelationID:      ec.CorrelationID(),
		Timestamp:          time.Now().UTC(),
		InitiatorIdentity:  ec.Initiator(),
		Action:             action,
		TargetResource:     resource,
		DecisionOutcome:    outcome,
		PolicyOrPermission: policyOrPermission,
		Metadata:           metadata,
	}
	if err := a.sink.EmitAudit(event); err != nil {
		a.logger.Error().Err(err).
			Str("run_id", ec.RunID()).
			Str("event_type", eventType).
			Str("outcome", outcome).
			Msg("audit emission failed")
		return &core.AuditEmissionError{EventType: eventType, Err: err}
	}
	a.logger.Debug().
		Str("run_id", ec.RunID()).
		Str("event_type", eventType).
		Str("resource", resource).
		Str("outcome", outcome).
		Msg("audit event emitted")
	return nil
}

func cloneMetadata(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func joinNames(names []string) string {
	return strings.Join(names, ",")
}
