package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-runtime/aegis/pkg/core"
	"github.com/aegis-runtime/aegis/pkg/governance"
)

// KVService exposes a Store as a governed service. Each operation verb
// resolves its own permission against the context grant set: the
// namespaced form "<service_id>.<verb>" or the bare verb grants access,
// using the same grant resolution as the pipeline's permission gate.
type KVService struct {
	id     string
	store  Store
	logger zerolog.Logger
}

// NewKVService wraps a store in the service contract.
func NewKVService(id string, store Store, logger zerolog.Logger) *KVService {
	return &KVService{
		id:     id,
		store:  store,
		logger: logger.With().Str("component", "stores.kv").Str("service_id", id).Logger(),
	}
}

// ID returns the service identifier.
func (s *KVService) ID() string { return s.id }

// Capabilities returns the operation verbs this service supports.
func (s *KVService) Capabilities() []string {
	return []string{"get", "set", "delete", "keys"}
}

// CheckPermission reports whether the context may perform the verb. The
// namespaced grant takes the service id prefix; the bare verb is also
// accepted so simple grant sets keep working.
func (s *KVService) CheckPermission(action string, ec *core.ExecutionContext) bool {
	grants := ec.Permissions()
	return governance.Granted(grants, s.id+"."+action) || governance.Granted(grants, action)
}

// Execute dispatches one operation verb against the backing store. All
// outcomes are reported through the result envelope; the error return is
// reserved for contract-level failures such as a nil context.
func (s *KVService) Execute(ctx context.Context, input core.ServiceInput, ec *core.ExecutionContext) (*core.TargetResult, error) {
	if ec == nil {
		return nil, &core.ValidationError{Field: "context", Message: "execution context is required"}
	}

	verb := input.Action
	if !s.CheckPermission(verb, ec) {
		s.logger.Warn().
			Str("run_id", ec.RunID()).
			Str("verb", verb).
			Msg("kv operation denied")
		return s.failure(core.ErrorTypePermission, core.SeverityHigh, false,
			fmt.Sprintf("permission denied for verb %q", verb)), nil
	}

	switch verb {
	case "get":
		return s.get(ctx, input.Payload)
	case "set":
		return s.set(ctx, input.Payload)
	case "delete":
		return s.delete(ctx, input.Payload)
	case "keys":
		return s.keys(ctx)
	default:
		return s.failure(core.ErrorTypeValidation, core.SeverityMedium, false,
			fmt.Sprintf("unknown verb %q, supported: get, set, delete, keys", verb)), nil
	}
}

func (s *KVService) get(ctx context.Context, payload map[string]interface{}) (*core.TargetResult, error) {
	key, ok := stringField(payload, "key")
	if !ok {
		return s.failure(core.ErrorTypeValidation, core.SeverityMedium, false,
			"payload must contain a string \"key\" for get"), nil
	}

	value, err := s.store.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return &core.TargetResult{
			Status:  core.StatusSuccess,
			Output:  map[string]interface{}{"key": key, "value": nil, "found": false},
			Metrics: map[string]float64{"cost": 1},
		}, nil
	}
	if err != nil {
		return s.failure(core.ErrorTypeDependencyFailure, core.SeverityHigh, true, err.Error()), nil
	}

	return &core.TargetResult{
		Status:  core.StatusSuccess,
		Output:  map[string]interface{}{"key": key, "value": value, "found": true},
		Metrics: map[string]float64{"cost": 1},
	}, nil
}

func (s *KVService) set(ctx context.Context, payload map[string]interface{}) (*core.TargetResult, error) {
	key, ok := stringField(payload, "key")
	if !ok {
		return s.failure(core.ErrorTypeValidation, core.SeverityMedium, false,
			"payload must contain a string \"key\" for set"), nil
	}
	value, ok := payload["value"]
	if !ok {
		return s.failure(core.ErrorTypeValidation, core.SeverityMedium, false,
			"payload must contain a \"value\" for set"), nil
	}

	if err := s.store.Set(ctx, key, value); err != nil {
		return s.failure(core.ErrorTypeDependencyFailure, core.SeverityHigh, true, err.Error()), nil
	}

	return &core.TargetResult{
		Status:  core.StatusSuccess,
		Output:  map[string]interface{}{"key": key, "stored": true},
		Metrics: map[string]float64{"cost": 1},
	}, nil
}

func (s *KVService) delete(ctx context.Context, payload map[string]interface{}) (*core.TargetResult, error) {
	key, ok := stringField(payload, "key")
	if !ok {
		return s.failure(core.ErrorTypeValidation, core.SeverityMedium, false,
			"payload must contain a string \"key\" for delete"), nil
	}

	err := s.store.Delete(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return &core.TargetResult{
			Status:  core.StatusSuccess,
			Output:  map[string]interface{}{"key": key, "deleted": false},
			Metrics: map[string]float64{"cost": 1},
		}, nil
	}
	if err != nil {
		return s.failure(core.ErrorTypeDependencyFailure, core.SeverityHigh, true, err.Error()), nil
	}

	return &core.TargetResult{
		Status:  core.StatusSuccess,
		Output:  map[string]interface{}{"key": key, "deleted": true},
		Metrics: map[string]float64{"cost": 1},
	}, nil
}

func (s *KVService) keys(ctx context.Context) (*core.TargetResult, error) {
	keys, err := s.store.Keys(ctx)
	if err != nil {
		return s.failure(core.ErrorTypeDependencyFailure, core.SeverityHigh, true, err.Error()), nil
	}

	return &core.TargetResult{
		Status:  core.StatusSuccess,
		Output:  map[string]interface{}{"keys": keys, "count": len(keys)},
		Metrics: map[string]float64{"cost": 1},
	}, nil
}

func (s *KVService) failure(errType core.ErrorType, severity core.Severity, retryable bool, msg string) *core.TargetResult {
	return &core.TargetResult{
		Status: core.StatusFailure,
		Errors: []*core.Error{{
			ID:        core.NewID(),
			Type:      errType,
			Message:   msg,
			Severity:  severity,
			Retryable: retryable,
			Source:    "service." + s.id,
			Timestamp: time.Now().UTC(),
		}},
	}
}

func stringField(payload map[string]interface{}, field string) (string, bool) {
	if payload == nil {
		return "", false
	}
	v, ok := payload[field].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

var _ core.Service = (*KVService)(nil)
