package core

import (
	"reflect"
	"testing"
)

func TestNewExecutionContext(t *testing.T) {
	limit := int64(5)
	ec, err := NewExecutionContext(ContextParams{
		Initiator:   "user:alice",
		Permissions: map[string]interface{}{"read": true},
		Budget:      &Budget{CallLimit: &limit},
		Metadata:    map[string]interface{}{"origin": "test"},
	})
	if err != nil {
		t.Fatalf("NewExecutionContext() error = %v", err)
	}
	if !IsValidID(ec.RunID()) {
		t.Errorf("RunID() = %q, not a valid UUID", ec.RunID())
	}
	if !IsValidID(ec.CorrelationID()) {
		t.Errorf("CorrelationID() = %q, not a valid UUID", ec.CorrelationID())
	}
	if ec.RunID() == ec.CorrelationID() {
		t.Error("run and correlation ids should be distinct")
	}
	if ec.Locale() != DefaultLocale {
		t.Errorf("Locale() = %q, want default %q", ec.Locale(), DefaultLocale)
	}
	if got := ec.Budget().CallLimit; got == nil || *got != 5 {
		t.Errorf("Budget().CallLimit = %v, want 5", got)
	}
}

func TestNewExecutionContextRequiresInitiator(t *testing.T) {
	_, err := NewExecutionContext(ContextParams{})
	if err == nil {
		t.Fatal("expected error for missing initiator")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("error = %T, want *ValidationError", err)
	}
}

func TestExecutionContextIsolatesCallerMaps(t *testing.T) {
	perms := map[string]interface{}{"read": true}
	meta := map[string]interface{}{"k": "v"}
	ec, err := NewExecutionContext(ContextParams{Initiator: "svc", Permissions: perms, Metadata: meta})
	if err != nil {
		t.Fatalf("NewExecutionContext() error = %v", err)
	}

	// Mutating the caller's maps must not reach the context.
	perms["write"] = true
	meta["k"] = "changed"
	if _, ok := ec.Permissions()["write"]; ok {
		t.Error("caller mutation of permissions leaked into context")
	}
	if ec.Metadata()["k"] != "v" {
		t.Error("caller mutation of metadata leaked into context")
	}

	// Mutating accessor results must not reach the context either.
	ec.Permissions()["admin"] = true
	if _, ok := ec.Permissions()["admin"]; ok {
		t.Error("accessor result mutation leaked into context")
	}
}

func TestPropagate(t *testing.T) {
	ec, err := NewExecutionContext(ContextParams{
		Initiator:   "user:alice",
		Permissions: map[string]interface{}{"read": true},
		Locale:      "fr-FR",
		Metadata:    map[string]interface{}{"step": "one", "keep": true},
	})
	if err != nil {
		t.Fatalf("NewExecutionContext() error = %v", err)
	}

	child, err := ec.Propagate(map[string]interface{}{"step": "two"})
	if err != nil {
		t.Fatalf("Propagate() error = %v", err)
	}
	if child.RunID() != ec.RunID() || child.CorrelationID() != ec.CorrelationID() {
		t.Error("propagation must carry identity fields unchanged")
	}
	if child.Initiator() != ec.Initiator() || child.Locale() != ec.Locale() {
		t.Error("propagation must carry initiator and locale unchanged")
	}
	if !reflect.DeepEqual(child.Permissions(), ec.Permissions()) {
		t.Error("propagation must carry permissions unchanged")
	}
	if child.Metadata()["step"] != "two" {
		t.Errorf("metadata update key lost: step = %v", child.Metadata()["step"])
	}
	if child.Metadata()["keep"] != true {
		t.Error("untouched metadata key dropped during merge")
	}
	if ec.Metadata()["step"] != "one" {
		t.Error("propagation mutated the source context")
	}
}

func TestPropagateEmptyUpdatesEqualsSource(t *testing.T) {
	ec, err := NewExecutionContext(ContextParams{
		Initiator: "svc",
		Metadata:  map[string]interface{}{"k": "v"},
	})
	if err != nil {
		t.Fatalf("NewExecutionContext() error = %v", err)
	}
	child, err := ec.Propagate(nil)
	if err != nil {
		t.Fatalf("Propagate() error = %v", err)
	}
	if !reflect.DeepEqual(child.Metadata(), ec.Metadata()) {
		t.Error("Propagate(nil) metadata differs from source")
	}
	if child.RunID() != ec.RunID() {
		t.Error("Propagate(nil) changed run identity")
	}
}

func TestPropagateRejectsCorruptIdentity(t *testing.T) {
	ec := &ExecutionContext{runID: "not-a-uuid", correlationID: NewID()}
	if _, err := ec.Propagate(nil); err == nil {
		t.Fatal("expected contract violation for corrupt run id")
	} else if _, ok := err.(*ContractViolationError); !ok {
		t.Errorf("error = %T, want *ContractViolationError", err)
	}
}
