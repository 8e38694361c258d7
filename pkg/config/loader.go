package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aegis-runtime/aegis/pkg/core"
)

const (
	// EnvConfigPath is the environment variable consulted when no
	// explicit path is given to Load.
	EnvConfigPath = "AEGIS_CONFIG"

	// DefaultConfigPath is the fallback location for the root
	// configuration document.
	DefaultConfigPath = "./config/aegis.yaml"
)

// Load reads and validates the root configuration document. The path is
// resolved in order: the explicit argument, the AEGIS_CONFIG environment
// variable, then ./config/aegis.yaml. An empty file yields an empty
// configuration. All failures are reported as *core.ConfigurationError.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultConfigPath
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &core.ConfigurationError{
			Path:    path,
			Message: fmt.Sprintf("configuration file not found, set %s or create %s", EnvConfigPath, DefaultConfigPath),
			Err:     err,
		}
	}
	if info.IsDir() {
		return nil, &core.ConfigurationError{
			Path:    path,
			Message: "configuration path is a directory, not a file",
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.ConfigurationError{
			Path:    path,
			Message: "failed to read configuration file",
			Err:     err,
		}
	}

	cfg, err := Parse(data)
	if err != nil {
		var cfgErr *core.ConfigurationError
		if errors.As(err, &cfgErr) && cfgErr.Path == "" {
			cfgErr.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// Parse decodes and validates a configuration document held in memory.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &core.ConfigurationError{
			Message: "failed to parse YAML configuration",
			Err:     err,
		}
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, &core.ConfigurationError{
			Message: "configuration validation failed",
			Err:     errors.Join(errs...),
		}
	}

	return &cfg, nil
}

// ApplyEnvironmentOverrides merges the environment override section into
// the base configuration and revalidates the result. Map-valued sections
// are deep-merged, everything else is replaced. The base configuration
// is never mutated.
func ApplyEnvironmentOverrides(base *Config) (*Config, error) {
	raw, err := yaml.Marshal(base)
	if err != nil {
		return nil, &core.ConfigurationError{
			Message: "failed to encode configuration for override merge",
			Err:     err,
		}
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &core.ConfigurationError{
			Message: "failed to decode configuration for override merge",
			Err:     err,
		}
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}

	if base.Environment == nil || len(base.Environment.Overrides) == 0 {
		return decodeDocument(doc)
	}

	for section, override := range base.Environment.Overrides {
		existing, ok := doc[section]
		overrideMap, overrideIsMap := override.(map[string]interface{})
		existingMap, existingIsMap := existing.(map[string]interface{})
		if ok && overrideIsMap && existingIsMap {
			doc[section] = deepMerge(existingMap, overrideMap)
		} else {
			doc[section] = override
		}
	}

	merged, err := decodeDocument(doc)
	if err != nil {
		name := "default"
		if base.Environment.Name != "" {
			name = base.Environment.Name
		}
		return nil, &core.ConfigurationError{
			Message: fmt.Sprintf("failed to apply environment overrides for %q", name),
			Err:     err,
		}
	}
	return merged, nil
}

func decodeDocument(doc map[string]interface{}) (*Config, error) {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return nil, &core.ConfigurationError{
			Message: "failed to encode merged configuration",
			Err:     err,
		}
	}
	return Parse(raw)
}

func deepMerge(base, override map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if existing, ok := result[k].(map[string]interface{}); ok {
			if overrideMap, ok := v.(map[string]interface{}); ok {
				result[k] = deepMerge(existing, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}
