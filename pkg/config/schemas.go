package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for configuration validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

var (
	defaultRegistry     *SchemaRegistry
	defaultRegistryOnce sync.Once
)

// DefaultSchemaRegistry returns the process-wide registry holding the
// built-in schemas. Compiling CUE is not free, so callers that only
// validate against built-ins should share this instance.
func DefaultSchemaRegistry() *SchemaRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewSchemaRegistry()
	})
	return defaultRegistry
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("flow", builtinFlowSchema)
	sr.RegisterSchema("agent", builtinAgentSchema)
	sr.RegisterSchema("tool", builtinToolSchema)
	sr.RegisterSchema("service", builtinServiceSchema)
}

// RegisterSchema compiles and registers a CUE schema under the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema encodes data as a CUE value and unifies it with
// the named schema. Unification failures come back as errors.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// ValidateFlow validates a flow configuration against the flow schema.
func (sr *SchemaRegistry) ValidateFlow(fc FlowConfig) error {
	return sr.ValidateAgainstSchema("flow", fc)
}

// ValidateAgent validates an agent configuration against the agent schema.
func (sr *SchemaRegistry) ValidateAgent(ac AgentConfig) error {
	return sr.ValidateAgainstSchema("agent", ac)
}

// ValidateTool validates a tool configuration against the tool schema.
func (sr *SchemaRegistry) ValidateTool(tc ToolConfig) error {
	return sr.ValidateAgainstSchema("tool", tc)
}

// ValidateService validates a service configuration against the service schema.
func (sr *SchemaRegistry) ValidateService(sc ServiceConfig) error {
	return sr.ValidateAgainstSchema("service", sc)
}

// Built-in schema definitions

const builtinFlowSchema = `
// Flow schema for declarative orchestration documents
#Flow: {
	// FlowID is the unique identifier for the flow
	flow_id: string & =~"^[a-zA-Z0-9_.-]+$"

	// Version identifies the flow revision
	version: string

	// Entrypoint names the node where execution starts
	entrypoint: string

	// Nodes are keyed by node identifier
	nodes?: {[string]: {
		kind?: "agent" | "tool" | "condition"
		agent_id?: string
		tool_id?: string
		...
	}}

	// Transitions connect nodes
	transitions?: [...{
		from: string
		to:   string
		condition?: {...}
		...
	}]

	// ErrorHandling configures failure behavior
	error_handling?: {...}
}
#Flow
`

const builtinAgentSchema = `
// Agent schema for agent registration entries
#Agent: {
	agent_id: string & =~"^[a-zA-Z0-9_.-]+$"
	version:  string
	enabled?: bool
	capabilities?: [...string]
	provider_binding?: string
	defaults?: {...}
}
#Agent
`

const builtinToolSchema = `
// Tool schema for tool registration entries
#Tool: {
	tool_id: string & =~"^[a-zA-Z0-9_.-]+$"
	version: string
	enabled?: bool
	permissions_required?: [...string]
	timeouts?: {...}
	retry_policy?: {...}
}
#Tool
`

const builtinServiceSchema = `
// Service schema for governed service entries
#Service: {
	service_id: string & =~"^[a-zA-Z0-9_.-]+$"
	version:    string
	capabilities?: [...string]
	provider_binding?: string
	access_policies?: {...}
}
#Service
`
