package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/aegis-runtime/aegis/pkg/core"
)

// Classify maps any failure into the canonical error taxonomy. The
// mapping is a pure function of the error's type: each known family gets
// a fixed category, severity, and retryable flag, and the original error
// is preserved as the cause for diagnosability. Unrecognized errors are
// conservatively treated as retryable execution failures.
func Classify(err error, source string) *core.Error {
	if err == nil {
		return nil
	}

	// Already canonical: pass through untouched.
	var canonical *core.Error
	if errors.As(err, &canonical) {
		return canonical
	}

	out := &core.Error{
		ID:        core.NewID(),
		Message:   err.Error(),
		Source:    source,
		Timestamp: time.Now().UTC(),
		Cause:     err,
		Metadata:  map[string]interface{}{},
	}

	var (
		permErr    *core.PermissionError
		violation  *core.PolicyViolationError
		policyErr  *core.PolicyError
		budgetErr  *core.BudgetExceededError
		validErr   *core.ValidationError
		configErr  *core.ConfigurationError
		routeErr   *core.RoutingError
		loadErr    *core.FlowLoadError
		flowErr    *core.FlowExecutionError
		actionErr  *core.ActionExecutionError
		auditErr   *core.AuditEmissionError
		timeoutErr *core.TimeoutError
	)

	switch {
	case errors.As(err, &permErr):
		out.Type = core.ErrorTypePermission
		out.Severity = core.SeverityHigh
		out.Retryable = false
		out.Metadata["missing"] = permErr.Missing
		out.Metadata["available_keys"] = permErr.AvailableKeys
		out.Metadata["resource_id"] = permErr.ResourceID

	case errors.As(err, &violation):
		out.Type = core.ErrorTypePermission
		out.Severity = core.SeverityHigh
		out.Retryable = false
		out.Metadata["action"] = violation.Action
		out.Metadata["outcome"] = violation.Outcome
		out.Metadata["resource_id"] = violation.ResourceID

	case errors.As(err, &policyErr):
		// A policy that cannot be parsed is a configuration defect, but
		// it blocks the action like a denial does.
		out.Type = core.ErrorTypePermission
		out.Severity = core.SeverityHigh
		out.Retryable = false
		out.Metadata["pattern"] = policyErr.Pattern

	case errors.As(err, &budgetErr):
		out.Type = core.ErrorTypeBudgetExceeded
		out.Severity = core.SeverityHigh
		out.Retryable = false
		out.Metadata["budget_type"] = budgetErr.BudgetType
		out.Metadata["limit"] = budgetErr.Limit
		out.Metadata["consumed"] = budgetErr.Consumed

	case errors.As(err, &validErr):
		out.Type = core.ErrorTypeValidation
		out.Severity = core.SeverityMedium
		out.Retryable = false
		out.Metadata["field"] = validErr.Field

	case errors.As(err, &configErr):
		out.Type = core.ErrorTypeValidation
		out.Severity = core.SeverityMedium
		out.Retryable = false
		out.Metadata["path"] = configErr.Path

	case errors.As(err, &routeErr):
		out.Type = core.ErrorTypeValidation
		out.Severity = core.SeverityMedium
		out.Retryable = false
		out.Metadata["agent_id"] = routeErr.AgentID
		out.Metadata["required_capabilities"] = routeErr.RequiredCapabilities

	case errors.As(err, &loadErr):
		out.Type = core.ErrorTypeValidation
		out.Severity = core.SeverityMedium
		out.Retryable = false
		out.Metadata["flow_id"] = loadErr.FlowID

	case errors.As(err, &flowErr):
		out.Type = core.ErrorTypeExecutionFailure
		out.Severity = core.SeverityHigh
		out.Retryable = true
		out.Metadata["flow_id"] = flowErr.FlowID
		out.Metadata["node_id"] = flowErr.NodeID

	case errors.As(err, &auditErr):
		out.Type = core.ErrorTypeExecutionFailure
		out.Severity = core.SeverityHigh
		out.Retryable = true
		out.Metadata["event_type"] = auditErr.EventType

	case errors.As(err, &timeoutErr):
		out.Type = core.ErrorTypeTimeout
		out.Severity = core.SeverityMedium
		out.Retryable = true
		out.Metadata["operation"] = timeoutErr.Operation

	case errors.Is(err, context.DeadlineExceeded):
		out.Type = core.ErrorTypeTimeout
		out.Severity = core.SeverityMedium
		out.Retryable = true

	case errors.As(err, &actionErr):
		// Checked after the governance families: an ActionExecutionError
		// wrapping a denial classifies as the denial, not as a generic
		// execution failure.
		out.Type = core.ErrorTypeExecutionFailure
		out.Severity = core.SeverityHigh
		out.Retryable = true
		out.Metadata["action_type"] = actionErr.ActionType
		out.Metadata["resource_id"] = actionErr.ResourceID

	default:
		out.Type = core.ErrorTypeExecutionFailure
		out.Severity = core.SeverityHigh
		out.Retryable = true
	}

	return out
}
