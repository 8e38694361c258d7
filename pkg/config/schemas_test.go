package config

import (
	"strings"
	"testing"
)

func TestSchemaRegistryBuiltins(t *testing.T) {
	sr := NewSchemaRegistry()
	for _, name := range []string{"flow", "agent", "tool", "service"} {
		if _, ok := sr.GetSchema(name); !ok {
			t.Errorf("expected built-in schema %q", name)
		}
	}
	if got := len(sr.ListSchemas()); got != 4 {
		t.Errorf("expected 4 built-in schemas, got %d", got)
	}
}

func TestRegisterSchemaRejectsBadCUE(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.RegisterSchema("broken", "#Broken: {"); err == nil {
		t.Fatal("expected compile error for malformed schema")
	}
}

func TestValidateFlowSchema(t *testing.T) {
	sr := DefaultSchemaRegistry()

	good := FlowConfig{
		FlowID:     "triage",
		Version:    "1.0.0",
		Entrypoint: "classify",
		Nodes: map[string]map[string]interface{}{
			"classify": {"kind": "agent", "agent_id": "summarizer"},
		},
		Transitions: []map[string]interface{}{
			{"from": "classify", "to": "classify"},
		},
	}
	if err := sr.ValidateFlow(good); err != nil {
		t.Fatalf("expected flow to validate, got %v", err)
	}

	badID := good
	badID.FlowID = "has spaces"
	if err := sr.ValidateFlow(badID); err == nil {
		t.Error("expected flow_id with spaces to be rejected")
	}

	badKind := FlowConfig{
		FlowID:     "triage",
		Version:    "1.0.0",
		Entrypoint: "classify",
		Nodes: map[string]map[string]interface{}{
			"classify": {"kind": "loop"},
		},
	}
	if err := sr.ValidateFlow(badKind); err == nil {
		t.Error("expected unknown node kind to be rejected")
	}
}

func TestValidateAgentToolServiceSchemas(t *testing.T) {
	sr := DefaultSchemaRegistry()

	if err := sr.ValidateAgent(AgentConfig{AgentID: "summarizer", Version: "1.0.0"}); err != nil {
		t.Errorf("expected agent to validate, got %v", err)
	}
	if err := sr.ValidateTool(ToolConfig{ToolID: "http_fetch", Version: "1.2.0"}); err != nil {
		t.Errorf("expected tool to validate, got %v", err)
	}
	if err := sr.ValidateService(ServiceConfig{ServiceID: "kv", Version: "1.0.0"}); err != nil {
		t.Errorf("expected service to validate, got %v", err)
	}
	if err := sr.ValidateAgent(AgentConfig{AgentID: "bad id", Version: "1.0.0"}); err == nil {
		t.Error("expected agent id with spaces to be rejected")
	}
}

func TestValidateAgainstUnknownSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	err := sr.ValidateAgainstSchema("nope", map[string]interface{}{})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected schema-not-found error, got %v", err)
	}
}
