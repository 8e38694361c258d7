package governance

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aegis-runtime/aegis/pkg/core"
)

func newTestEngine(t *testing.T, policies map[string]PolicyConfig) *PolicyEngine {
	t.Helper()
	engine, err := NewPolicyEngine(context.Background(), policies, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPolicyEngine() error = %v", err)
	}
	return engine
}

func TestPolicyEngineEvaluate(t *testing.T) {
	policies := map[string]PolicyConfig{
		"tool.execute":   {Outcome: "allow"},
		"tool.*":         {Outcome: "deny"},
		"service.delete": {Outcome: "require_approval"},
		"service.get":    {},
	}
	engine := newTestEngine(t, policies)

	tests := []struct {
		name        string
		action      string
		wantOutcome PolicyOutcome
		wantPattern string
	}{
		{
			name:        "exact match wins over wildcard",
			action:      "tool.execute",
			wantOutcome: OutcomeAllow,
			wantPattern: "tool.execute",
		},
		{
			name:        "wildcard catches unlisted action",
			action:      "tool.read",
			wantOutcome: OutcomeDeny,
			wantPattern: "tool.*",
		},
		{
			name:        "require approval outcome",
			action:      "service.delete",
			wantOutcome: OutcomeRequireApproval,
			wantPattern: "service.delete",
		},
		{
			name:        "matched policy without outcome defaults to allow",
			action:      "service.get",
			wantOutcome: OutcomeAllow,
			wantPattern: "service.get",
		},
		{
			name:        "no match defaults to allow",
			action:      "service.list",
			wantOutcome: OutcomeAllow,
			wantPattern: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := engine.Evaluate(context.Background(), tt.action, "res-1", "tool", nil)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if decision.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %s, want %s", decision.Outcome, tt.wantOutcome)
			}
			if decision.Pattern != tt.wantPattern {
				t.Errorf("Pattern = %q, want %q", decision.Pattern, tt.wantPattern)
			}
		})
	}
}

func TestPolicyEngineInvalidOutcomeIsConfigDefect(t *testing.T) {
	engine := newTestEngine(t, map[string]PolicyConfig{
		"tool.execute": {Outcome: "maybe"},
	})

	_, err := engine.Evaluate(context.Background(), "tool.execute", "res-1", "tool", nil)
	if err == nil {
		t.Fatal("expected error for unparsable outcome")
	}
	var perr *core.PolicyError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %T, want *core.PolicyError", err)
	}
	if perr.Pattern != "tool.execute" {
		t.Errorf("Pattern = %q, want tool.execute", perr.Pattern)
	}
}

func TestPolicyEngineConvenienceQueries(t *testing.T) {
	engine := newTestEngine(t, map[string]PolicyConfig{
		"tool.execute":   {Outcome: "deny"},
		"service.delete": {Outcome: "require_approval"},
	})
	ctx := context.Background()

	allowed, err := engine.IsAllowed(ctx, "tool.execute", "res-1", "tool")
	if err != nil {
		t.Fatalf("IsAllowed() error = %v", err)
	}
	if allowed {
		t.Error("IsAllowed() = true for denied action")
	}

	needsApproval, err := engine.RequiresApproval(ctx, "service.delete", "res-1", "service")
	if err != nil {
		t.Fatalf("RequiresApproval() error = %v", err)
	}
	if !needsApproval {
		t.Error("RequiresApproval() = false for require_approval action")
	}
}

func TestPolicyEngineRegoOutcome(t *testing.T) {
	const module = `package aegis.policies

outcome := "deny" if {
	input.resource_id == "restricted"
}

outcome := "allow" if {
	input.resource_id != "restricted"
}
`
	engine := newTestEngine(t, map[string]PolicyConfig{
		"tool.execute": {Rego: module},
	})
	ctx := context.Background()

	decision, err := engine.Evaluate(ctx, "tool.execute", "restricted", "tool", nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if decision.Outcome != OutcomeDeny {
		t.Errorf("Outcome = %s, want deny", decision.Outcome)
	}

	decision, err = engine.Evaluate(ctx, "tool.execute", "open", "tool", nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if decision.Outcome != OutcomeAllow {
		t.Errorf("Outcome = %s, want allow", decision.Outcome)
	}
}

func TestPolicyEngineRegoBadResultIsConfigDefect(t *testing.T) {
	const module = `package aegis.policies

outcome := 42
`
	engine := newTestEngine(t, map[string]PolicyConfig{
		"tool.execute": {Rego: module},
	})

	_, err := engine.Evaluate(context.Background(), "tool.execute", "res-1", "tool", nil)
	var perr *core.PolicyError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %T, want *core.PolicyError", err)
	}
}

func TestPolicyEngineRejectsRegoWithLiteralOutcome(t *testing.T) {
	_, err := NewPolicyEngine(context.Background(), map[string]PolicyConfig{
		"tool.execute": {Outcome: "allow", Rego: "package x\noutcome := \"allow\""},
	}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for policy carrying both outcome and rego")
	}
}

func TestParseOutcome(t *testing.T) {
	tests := []struct {
		in      string
		want    PolicyOutcome
		wantErr bool
	}{
		{in: "allow", want: OutcomeAllow},
		{in: "DENY", want: OutcomeDeny},
		{in: " require_approval ", want: OutcomeRequireApproval},
		{in: "", want: OutcomeAllow},
		{in: "approve", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseOutcome(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseOutcome(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseOutcome(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
