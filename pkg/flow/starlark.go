package flow

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
)

// ConditionEvaluator executes Starlark condition expressions against the
// flow state. Scripts run in a sandboxed thread with print suppressed and
// a hard timeout.
type ConditionEvaluator struct {
	timeout time.Duration
}

// NewConditionEvaluator creates an evaluator. A zero timeout defaults to
// 30 seconds.
func NewConditionEvaluator(timeout time.Duration) *ConditionEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ConditionEvaluator{timeout: timeout}
}

// Evaluate runs the expression with the state bound as `state` plus every
// top-level state key as its own variable, and returns the expression's
// truth value.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, expr string, state map[string]interface{}) (bool, error) {
	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resultCh := make(chan bool, 1)
	errCh := make(chan error, 1)

	go func() {
		result, err := e.evaluateSync(expr, state)
		if err != nil {
			errCh <- err
		} else {
			resultCh <- result
		}
	}()

	select {
	case <-evalCtx.Done():
		return false, fmt.Errorf("condition evaluation timeout after %v", e.timeout)
	case err := <-errCh:
		return false, err
	case result := <-resultCh:
		return result, nil
	}
}

func (e *ConditionEvaluator) evaluateSync(expr string, state map[string]interface{}) (bool, error) {
	thread := &starlark.Thread{
		Name: "aegis-flow",
		Print: func(_ *starlark.Thread, msg string) {
			// Suppress print for sandboxing
		},
	}

	stateDict, err := toStarlarkValue(state)
	if err != nil {
		return false, fmt.Errorf("failed to convert state: %w", err)
	}

	predeclared := starlark.StringDict{
		"state": stateDict,
	}
	for key, val := range state {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return false, fmt.Errorf("failed to convert state key %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}

	value, err := starlark.Eval(thread, "condition.star", expr, predeclared)
	if err != nil {
		return false, fmt.Errorf("condition evaluation failed: %w", err)
	}

	return bool(value.Truth()), nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			starlarkVal, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}
