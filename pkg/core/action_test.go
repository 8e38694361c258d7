package core

import "testing"

func TestActionValidate(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		wantErr bool
	}{
		{
			name:   "valid tool action",
			action: NewToolAction("search", map[string]interface{}{"q": "x"}),
		},
		{
			name:   "valid service action",
			action: NewServiceAction("kv", "get", map[string]interface{}{"key": "k"}),
		},
		{
			name:    "tool action without id",
			action:  Action{Type: ActionTypeTool},
			wantErr: true,
		},
		{
			name:    "service action without verb",
			action:  Action{Type: ActionTypeService, ServiceID: "kv"},
			wantErr: true,
		},
		{
			name:    "tool action carrying service fields",
			action:  Action{Type: ActionTypeTool, ToolID: "search", ServiceID: "kv"},
			wantErr: true,
		},
		{
			name:    "unknown type",
			action:  Action{Type: "webhook"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestActionPolicyAction(t *testing.T) {
	if got := NewToolAction("search", nil).PolicyAction(); got != "tool.execute" {
		t.Errorf("tool PolicyAction() = %q, want tool.execute", got)
	}
	if got := NewServiceAction("kv", "delete", nil).PolicyAction(); got != "service.delete" {
		t.Errorf("service PolicyAction() = %q, want service.delete", got)
	}
}
