// Package config loads and validates the root Aegis configuration
// document.
//
// Configuration is a single YAML file describing the runtime, the
// agents, tools, services, and flows to register, governance inputs,
// and observability settings. Load resolves the file location from an
// explicit path, the AEGIS_CONFIG environment variable, or
// ./config/aegis.yaml, in that order.
//
// Validation runs in two layers: struct-level rules via validator tags,
// and CUE schema unification for flow documents through SchemaRegistry.
// Environment-specific overrides declared under the environment section
// are merged deterministically with ApplyEnvironmentOverrides.
package config
