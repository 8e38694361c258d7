package governance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-runtime/aegis/pkg/core"
)

// PolicyOutcome is one of the three terminal decisions a policy
// evaluation may produce.
type PolicyOutcome string

const (
	// OutcomeAllow permits the action.
	OutcomeAllow PolicyOutcome = "allow"

	// OutcomeDeny blocks the action.
	OutcomeDeny PolicyOutcome = "deny"

	// OutcomeRequireApproval blocks the action pending approval. There is
	// no asynchronous approval channel, so this is a hard stop.
	OutcomeRequireApproval PolicyOutcome = "require_approval"
)

// ParseOutcome converts a configured outcome string into a PolicyOutcome.
// An empty string defaults to allow. Anything else that does not match is
// a configuration defect, not a denial.
func ParseOutcome(s string) (PolicyOutcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return OutcomeAllow, nil
	case string(OutcomeAllow):
		return OutcomeAllow, nil
	case string(OutcomeDeny):
		return OutcomeDeny, nil
	case string(OutcomeRequireApproval):
		return OutcomeRequireApproval, nil
	default:
		return "", fmt.Errorf("unknown policy outcome %q", s)
	}
}

// PolicyConfig configures one policy pattern. Either Outcome holds a
// literal decision or Rego holds a module whose outcome rule produces
// one; a config carrying both is rejected at compile time.
type PolicyConfig struct {
	// Outcome is the literal decision: allow, deny, or require_approval.
	// Empty defaults to allow.
	Outcome string `json:"outcome,omitempty" yaml:"outcome,omitempty"`

	// Rego is an optional module deciding the outcome dynamically.
	Rego string `json:"rego,omitempty" yaml:"rego,omitempty"`

	// Description documents the policy's intent.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// PolicyDecision is the result of one policy evaluation.
type PolicyDecision struct {
	// Outcome is the terminal decision.
	Outcome PolicyOutcome

	// Pattern is the configured key that matched, empty when the default
	// allow applied.
	Pattern string
}

// PolicyEngine matches governed action strings against configured policy
// patterns. Lookup order: exact match, then wildcard patterns ending in
// ".*" scanned in ascending key order, then default allow. Evaluation is
// pure; nothing is cached between calls except the compiled Rego queries.
type PolicyEngine struct {
	mu        sync.RWMutex
	policies  map[string]*compiledPolicy
	wildcards []string
	logger    zerolog.Logger
}

type compiledPolicy struct {
	config   PolicyConfig
	query    *outcomeQuery
	compiled time.Time
}

// NewPolicyEngine creates an engine from the configured pattern map,
// compiling any Rego-backed policies up front.
func NewPolicyEngine(ctx context.Context, policies map[string]PolicyConfig, logger zerolog.Logger) (*PolicyEngine, error) {
	e := &PolicyEngine{
		logger: logger.With().Str("component", "governance.policy").Logger(),
	}
	if err := e.Reload(ctx, policies); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload replaces the configured policies, recompiling Rego modules. On
// error the previous policy set stays active.
func (e *PolicyEngine) Reload(ctx context.Context, policies map[string]PolicyConfig) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	var wildcards []string
	for pattern, cfg := range policies {
		cp := &compiledPolicy{config: cfg, compiled: time.Now()}
		if cfg.Rego != "" {
			if cfg.Outcome != "" {
				return &core.PolicyError{Pattern: pattern, Message: "policy declares both a literal outcome and a rego module"}
			}
			q, err := compileOutcomeQuery(ctx, pattern, cfg.Rego)
			if err != nil {
				return &core.PolicyError{Pattern: pattern, Message: fmt.Sprintf("rego module failed to compile: %v", err)}
			}
			cp.query = q
		}
		compiled[pattern] = cp
		if strings.HasSuffix(pattern, ".*") {
			wildcards = append(wildcards, pattern)
		}
	}
	sort.Strings(wildcards)

	e.mu.Lock()
	e.policies = compiled
	e.wildcards = wildcards
	e.mu.Unlock()

	e.logger.Info().
		Int("patterns", len(compiled)).
		Int("wildcards", len(wildcards)).
		Msg("policies loaded")
	return nil
}

// Evaluate resolves the decision for an action string. Exact pattern
// match wins over wildcards; no match defaults to allow. A matched policy
// whose outcome cannot be parsed fails with a PolicyError.
func (e *PolicyEngine) Evaluate(ctx context.Context, action, resourceID, resourceType string, metadata map[string]interface{}) (PolicyDecision, error) {
	e.mu.RLock()
	cp, pattern := e.match(action)
	e.mu.RUnlock()

	if cp == nil {
		return PolicyDecision{Outcome: OutcomeAllow}, nil
	}

	outcomeStr := cp.config.Outcome
	if cp.query != nil {
		var err error
		outcomeStr, err = cp.query.eval(ctx, regoInput(action, resourceID, resourceType, metadata))
		if err != nil {
			return PolicyDecision{}, &core.PolicyError{Pattern: pattern, Message: err.Error()}
		}
	}

	outcome, err := ParseOutcome(outcomeStr)
	if err != nil {
		return PolicyDecision{}, &core.PolicyError{Pattern: pattern, Message: err.Error()}
	}

	e.logger.Debug().
		Str("action", action).
		Str("resource_id", resourceID).
		Str("pattern", pattern).
		Str("outcome", string(outcome)).
		Msg("policy evaluated")
	return PolicyDecision{Outcome: outcome, Pattern: pattern}, nil
}

// IsAllowed reports whether the action resolves to allow. It re-evaluates
// on every call.
func (e *PolicyEngine) IsAllowed(ctx context.Context, action, resourceID, resourceType string) (bool, error) {
	d, err := e.Evaluate(ctx, action, resourceID, resourceType, nil)
	if err != nil {
		return false, err
	}
	return d.Outcome == OutcomeAllow, nil
}

// RequiresApproval reports whether the action resolves to
// require_approval. It re-evaluates on every call.
func (e *PolicyEngine) RequiresApproval(ctx context.Context, action, resourceID, resourceType string) (bool, error) {
	d, err := e.Evaluate(ctx, action, resourceID, resourceType, nil)
	if err != nil {
		return false, err
	}
	return d.Outcome == OutcomeRequireApproval, nil
}

// match resolves the first applicable pattern under the read lock.
func (e *PolicyEngine) match(action string) (*compiledPolicy, string) {
	if cp, ok := e.policies[action]; ok {
		return cp, action
	}
	for _, pattern := range e.wildcards {
		prefix := strings.TrimSuffix(pattern, "*")
		if strings.HasPrefix(action, prefix) {
			return e.policies[pattern], pattern
		}
	}
	return nil, ""
}

func regoInput(action, resourceID, resourceType string, metadata map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"action":        action,
		"resource_id":   resourceID,
		"resource_type": resourceType,
		"metadata":      metadata,
	}
}
