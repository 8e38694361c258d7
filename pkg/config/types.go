package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/aegis-runtime/aegis/pkg/flow"
)

// RuntimeConfig defines global runtime behavior and constraints.
type RuntimeConfig struct {
	// RuntimeID is the unique identifier for the runtime instance.
	RuntimeID string `yaml:"runtime_id" json:"runtime_id" validate:"required"`

	// Mode is the execution mode (development, staging, production).
	Mode string `yaml:"mode,omitempty" json:"mode,omitempty" validate:"omitempty,oneof=development staging production"`

	// Concurrency is the maximum number of concurrent executions.
	Concurrency int `yaml:"concurrency,omitempty" json:"concurrency,omitempty" validate:"omitempty,min=1"`

	// Timeouts holds global timeout defaults keyed by operation.
	Timeouts map[string]interface{} `yaml:"timeouts,omitempty" json:"timeouts,omitempty"`

	// DefaultLocale is used when the execution context carries none.
	DefaultLocale string `yaml:"default_locale,omitempty" json:"default_locale,omitempty"`

	// FailFast stops the runtime on the first unrecoverable error.
	FailFast bool `yaml:"fail_fast,omitempty" json:"fail_fast,omitempty"`
}

// AgentConfig defines an available agent and how it is instantiated.
type AgentConfig struct {
	// AgentID is the unique identifier for the agent.
	AgentID string `yaml:"agent_id" json:"agent_id" validate:"required"`

	// Version is the agent version identifier.
	Version string `yaml:"version" json:"version" validate:"required"`

	// Enabled controls whether the agent is registered.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Capabilities lists the capabilities this agent provides.
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`

	// ProviderBinding references a provider entry, if any.
	ProviderBinding string `yaml:"provider_binding,omitempty" json:"provider_binding,omitempty"`

	// Defaults holds default configuration for the agent.
	Defaults map[string]interface{} `yaml:"defaults,omitempty" json:"defaults,omitempty"`
}

// ToolConfig defines a side-effecting tool and its execution constraints.
type ToolConfig struct {
	// ToolID is the unique identifier for the tool.
	ToolID string `yaml:"tool_id" json:"tool_id" validate:"required"`

	// Version is the tool version identifier.
	Version string `yaml:"version" json:"version" validate:"required"`

	// Enabled controls whether the tool is registered.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// PermissionsRequired lists permissions needed to execute the tool.
	PermissionsRequired []string `yaml:"permissions_required,omitempty" json:"permissions_required,omitempty"`

	// Timeouts holds timeout configuration for the tool.
	Timeouts map[string]interface{} `yaml:"timeouts,omitempty" json:"timeouts,omitempty"`

	// RetryPolicy holds retry policy configuration.
	RetryPolicy map[string]interface{} `yaml:"retry_policy,omitempty" json:"retry_policy,omitempty"`
}

// ServiceConfig defines a governed service, including stateful services.
type ServiceConfig struct {
	// ServiceID is the unique identifier for the service.
	ServiceID string `yaml:"service_id" json:"service_id" validate:"required"`

	// Version is the service version identifier.
	Version string `yaml:"version" json:"version" validate:"required"`

	// Capabilities lists the capabilities this service provides.
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`

	// ProviderBinding references a provider entry, if any.
	ProviderBinding string `yaml:"provider_binding,omitempty" json:"provider_binding,omitempty"`

	// AccessPolicies holds access policy configuration.
	AccessPolicies map[string]interface{} `yaml:"access_policies,omitempty" json:"access_policies,omitempty"`
}

// FlowConfig defines orchestration logic declaratively. Its shape
// matches the flow definition document accepted by pkg/flow.
type FlowConfig struct {
	// FlowID is the unique identifier for the flow.
	FlowID string `yaml:"flow_id" json:"flow_id" validate:"required"`

	// Version is the flow version identifier.
	Version string `yaml:"version" json:"version" validate:"required"`

	// Entrypoint names the node where execution starts.
	Entrypoint string `yaml:"entrypoint" json:"entrypoint" validate:"required"`

	// Nodes holds node definitions keyed by node identifier.
	Nodes map[string]map[string]interface{} `yaml:"nodes,omitempty" json:"nodes,omitempty"`

	// Transitions lists transition definitions between nodes.
	Transitions []map[string]interface{} `yaml:"transitions,omitempty" json:"transitions,omitempty"`

	// ErrorHandling holds error handling behavior configuration.
	ErrorHandling map[string]interface{} `yaml:"error_handling,omitempty" json:"error_handling,omitempty"`
}

// Definition converts the flow configuration into an executable flow
// definition, running it through the same loader used for standalone
// flow documents.
func (fc *FlowConfig) Definition() (*flow.Definition, error) {
	data, err := yaml.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode flow %s: %w", fc.FlowID, err)
	}
	return flow.Load(data)
}

// ProvidersConfig selects concrete implementations for abstract services.
type ProvidersConfig struct {
	// LLM is the language model provider configuration.
	LLM map[string]interface{} `yaml:"llm,omitempty" json:"llm,omitempty"`

	// Embedding is the embedding provider configuration.
	Embedding map[string]interface{} `yaml:"embedding,omitempty" json:"embedding,omitempty"`

	// VectorStore is the vector store provider configuration.
	VectorStore map[string]interface{} `yaml:"vector_store,omitempty" json:"vector_store,omitempty"`

	// Database is the database provider configuration.
	Database map[string]interface{} `yaml:"database,omitempty" json:"database,omitempty"`
}

// GovernanceConfig defines security, permissions, and budget enforcement.
type GovernanceConfig struct {
	// Permissions holds permission configuration.
	Permissions map[string]interface{} `yaml:"permissions,omitempty" json:"permissions,omitempty"`

	// Budgets holds budget configuration.
	Budgets map[string]interface{} `yaml:"budgets,omitempty" json:"budgets,omitempty"`

	// Policies holds policy configuration.
	Policies map[string]interface{} `yaml:"policies,omitempty" json:"policies,omitempty"`

	// Approvals holds approval configuration.
	Approvals map[string]interface{} `yaml:"approvals,omitempty" json:"approvals,omitempty"`
}

// ObservabilityConfig controls observability behavior without code changes.
type ObservabilityConfig struct {
	// Enabled controls whether observability is active.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Sampling holds sampling configuration.
	Sampling map[string]interface{} `yaml:"sampling,omitempty" json:"sampling,omitempty"`

	// Exporters holds exporter configuration.
	Exporters map[string]interface{} `yaml:"exporters,omitempty" json:"exporters,omitempty"`

	// Redaction holds redaction rule configuration.
	Redaction map[string]interface{} `yaml:"redaction,omitempty" json:"redaction,omitempty"`

	// Audit holds audit event configuration.
	Audit map[string]interface{} `yaml:"audit,omitempty" json:"audit,omitempty"`
}

// EnvironmentConfig supports environment-specific overrides without
// duplicating whole configuration files.
type EnvironmentConfig struct {
	// Name is the environment name.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Overrides holds section-level overrides applied on top of the
	// base configuration.
	Overrides map[string]interface{} `yaml:"overrides,omitempty" json:"overrides,omitempty"`
}

// Config is the root configuration document. All sections are optional;
// an empty file yields an empty configuration.
type Config struct {
	// Runtime is the runtime configuration.
	Runtime *RuntimeConfig `yaml:"runtime,omitempty" json:"runtime,omitempty"`

	// Agents holds agent configurations keyed by agent_id.
	Agents map[string]AgentConfig `yaml:"agents,omitempty" json:"agents,omitempty"`

	// Tools holds tool configurations keyed by tool_id.
	Tools map[string]ToolConfig `yaml:"tools,omitempty" json:"tools,omitempty"`

	// Services holds service configurations keyed by service_id.
	Services map[string]ServiceConfig `yaml:"services,omitempty" json:"services,omitempty"`

	// Flows holds flow configurations keyed by flow_id.
	Flows map[string]FlowConfig `yaml:"flows,omitempty" json:"flows,omitempty"`

	// Providers is the provider configuration.
	Providers *ProvidersConfig `yaml:"providers,omitempty" json:"providers,omitempty"`

	// Governance is the governance configuration.
	Governance *GovernanceConfig `yaml:"governance,omitempty" json:"governance,omitempty"`

	// Observability is the observability configuration.
	Observability *ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty"`

	// Environment is the environment configuration.
	Environment *EnvironmentConfig `yaml:"environment,omitempty" json:"environment,omitempty"`
}

var structValidator = validator.New()

// Validate checks the configuration for structural and consistency
// errors: struct tag validation, map keys matching embedded ids,
// provider bindings pointing at a configured providers section, flow
// entrypoints existing, and flow documents unifying against the
// built-in flow schema.
func (c *Config) Validate() []error {
	var errs []error

	if c.Runtime != nil {
		if err := structValidator.Struct(c.Runtime); err != nil {
			errs = append(errs, fmt.Errorf("runtime: %w", err))
		}
	}

	for id, agent := range c.Agents {
		if err := structValidator.Struct(agent); err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", id, err))
			continue
		}
		if agent.AgentID != id {
			errs = append(errs, fmt.Errorf("agent key %q does not match agent_id %q", id, agent.AgentID))
		}
		if agent.ProviderBinding != "" && c.Providers == nil {
			errs = append(errs, fmt.Errorf("agent %s references provider_binding %q but no providers are configured", id, agent.ProviderBinding))
		}
	}

	for id, tool := range c.Tools {
		if err := structValidator.Struct(tool); err != nil {
			errs = append(errs, fmt.Errorf("tool %s: %w", id, err))
			continue
		}
		if tool.ToolID != id {
			errs = append(errs, fmt.Errorf("tool key %q does not match tool_id %q", id, tool.ToolID))
		}
	}

	for id, svc := range c.Services {
		if err := structValidator.Struct(svc); err != nil {
			errs = append(errs, fmt.Errorf("service %s: %w", id, err))
			continue
		}
		if svc.ServiceID != id {
			errs = append(errs, fmt.Errorf("service key %q does not match service_id %q", id, svc.ServiceID))
		}
		if svc.ProviderBinding != "" && c.Providers == nil {
			errs = append(errs, fmt.Errorf("service %s references provider_binding %q but no providers are configured", id, svc.ProviderBinding))
		}
	}

	registry := DefaultSchemaRegistry()
	for id, fc := range c.Flows {
		if err := structValidator.Struct(fc); err != nil {
			errs = append(errs, fmt.Errorf("flow %s: %w", id, err))
			continue
		}
		if fc.FlowID != id {
			errs = append(errs, fmt.Errorf("flow key %q does not match flow_id %q", id, fc.FlowID))
		}
		if _, ok := fc.Nodes[fc.Entrypoint]; !ok {
			errs = append(errs, fmt.Errorf("flow %s entrypoint %q does not exist in nodes", id, fc.Entrypoint))
		}
		if err := registry.ValidateFlow(fc); err != nil {
			errs = append(errs, fmt.Errorf("flow %s: %w", id, err))
		}
	}

	return errs
}

// IsEnabled reports whether an agent entry is enabled. Entries without
// an explicit flag default to enabled.
func (a *AgentConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// IsEnabled reports whether a tool entry is enabled.
func (t *ToolConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}
