// Package governance implements the three admission control gates of the
// Aegis pipeline (permissions, policy, budget) and the audit emitter that
// records every decision they make.
package governance

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/aegis-runtime/aegis/pkg/core"
)

// permissionListKey is the reserved grant-map key holding an explicit
// list of granted permission names.
const permissionListKey = "permissions"

// PermissionEvaluator resolves required permissions against a context's
// grant set. Evaluation is pure with respect to the context.
type PermissionEvaluator struct {
	logger zerolog.Logger
}

// NewPermissionEvaluator creates a permission evaluator.
func NewPermissionEvaluator(logger zerolog.Logger) *PermissionEvaluator {
	return &PermissionEvaluator{
		logger: logger.With().Str("component", "governance.permissions").Logger(),
	}
}

// Check verifies that every required permission is granted. The check is
// all-or-nothing: one missing grant fails the whole set, and the error
// reports the complete missing set, not just the first. An empty
// required set always succeeds.
func (e *PermissionEvaluator) Check(ec *core.ExecutionContext, required []string, resourceID string) error {
	if len(required) == 0 {
		return nil
	}
	grants := ec.Permissions()

	var missing []string
	for _, name := range required {
		if !Granted(grants, name) {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		e.logger.Debug().
			Str("run_id", ec.RunID()).
			Str("resource_id", resourceID).
			Strs("required", required).
			Msg("permissions granted")
		return nil
	}

	sort.Strings(missing)
	available := make([]string, 0, len(grants))
	for k := range grants {
		available = append(available, k)
	}
	sort.Strings(available)

	e.logger.Warn().
		Str("run_id", ec.RunID()).
		Str("resource_id", resourceID).
		Strs("missing", missing).
		Msg("permissions denied")
	return &core.PermissionError{
		Missing:       missing,
		AvailableKeys: available,
		ResourceID:    resourceID,
	}
}

// Granted resolves one permission name against a grant map. Resolution
// order, first match wins:
//  1. direct key: a boolean value decides; any other present value counts
//     as granted
//  2. the reserved "permissions" key holding a list containing the name
//  3. one level of nested maps, same boolean semantics as (1)
//
// Services performing their own per-verb permission resolution use this
// so grants behave identically on both sides of the pipeline.
func Granted(grants map[string]interface{}, name string) bool {
	if v, ok := grants[name]; ok {
		if b, isBool := v.(bool); isBool {
			return b
		}
		return true
	}

	if raw, ok := grants[permissionListKey]; ok {
		if listed(raw, name) {
			return true
		}
	}

	// Nested maps are scanned in sorted key order so the result does not
	// depend on map iteration order; the first map containing the name
	// decides.
	keys := make([]string, 0, len(grants))
	for key := range grants {
		if key == permissionListKey {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		nested, isMap := grants[key].(map[string]interface{})
		if !isMap {
			continue
		}
		if nv, ok := nested[name]; ok {
			if b, isBool := nv.(bool); isBool {
				return b
			}
			return true
		}
	}
	return false
}

// listed reports whether a list-form grant value contains the name.
// YAML and JSON decoding produce []interface{}; []string is accepted for
// grants built in code.
func listed(raw interface{}, name string) bool {
	switch list := raw.(type) {
	case []string:
		for _, item := range list {
			if item == name {
				return true
			}
		}
	case []interface{}:
		for _, item := range list {
			if s, ok := item.(string); ok && s == name {
				return true
			}
		}
	}
	return false
}
