package flow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aegis-runtime/aegis/pkg/core"
)

// LoadFile reads a flow definition from a YAML file and validates it.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.FlowLoadError{
			Message: fmt.Sprintf("failed to read %s", path),
			Err:     err,
		}
	}
	return Load(data)
}

// Load parses a flow definition from YAML bytes and validates it.
func Load(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &core.FlowLoadError{
			FlowID:  def.FlowID,
			Message: "failed to parse flow YAML",
			Err:     err,
		}
	}
	if len(def.Nodes) == 0 && def.FlowID == "" {
		return nil, &core.FlowLoadError{Message: "flow document is empty"}
	}
	if err := def.Validate(); err != nil {
		return nil, &core.FlowLoadError{
			FlowID:  def.FlowID,
			Message: err.Error(),
			Err:     err,
		}
	}
	return &def, nil
}
