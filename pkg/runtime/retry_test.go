package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-runtime/aegis/pkg/core"
	"github.com/aegis-runtime/aegis/pkg/governance"
)

func newTestPolicy(maxAttempts int, enforcer *governance.BudgetEnforcer) *RetryPolicy {
	p := NewRetryPolicy(maxAttempts, 10*time.Millisecond, 100*time.Millisecond, 2, enforcer, zerolog.Nop())
	p.sleep = func(time.Duration) {}
	p.jitter = func() float64 { return 0 }
	return p
}

func TestShouldRetry(t *testing.T) {
	retryable := &core.Error{Type: core.ErrorTypeExecutionFailure, Retryable: true}

	tests := []struct {
		name       string
		err        *core.Error
		attempt    int
		idempotent bool
		want       bool
	}{
		{
			name:       "retryable idempotent failure",
			err:        retryable,
			attempt:    1,
			idempotent: true,
			want:       true,
		},
		{
			name:       "attempts exhausted",
			err:        retryable,
			attempt:    3,
			idempotent: true,
			want:       false,
		},
		{
			name:       "non-retryable error",
			err:        &core.Error{Type: core.ErrorTypeExecutionFailure, Retryable: false},
			attempt:    1,
			idempotent: true,
			want:       false,
		},
		{
			name:       "non-idempotent operation",
			err:        retryable,
			attempt:    1,
			idempotent: false,
			want:       false,
		},
		{
			name:       "permission error never retried even if marked retryable",
			err:        &core.Error{Type: core.ErrorTypePermission, Retryable: true},
			attempt:    1,
			idempotent: true,
			want:       false,
		},
		{
			name:       "validation error never retried",
			err:        &core.Error{Type: core.ErrorTypeValidation, Retryable: true},
			attempt:    1,
			idempotent: true,
			want:       false,
		},
		{
			name:       "budget error never retried",
			err:        &core.Error{Type: core.ErrorTypeBudgetExceeded, Retryable: true},
			attempt:    1,
			idempotent: true,
			want:       false,
		},
		{
			name:       "timeout is retryable",
			err:        &core.Error{Type: core.ErrorTypeTimeout, Retryable: true},
			attempt:    1,
			idempotent: true,
			want:       true,
		},
	}

	policy := newTestPolicy(3, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.ShouldRetry(tt.err, tt.attempt, tt.idempotent); got != tt.want {
				t.Errorf("ShouldRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldRetryChecksLiveBudget(t *testing.T) {
	tracker := governance.NewBudgetTracker()
	limit := int64(1)
	enforcer := governance.NewBudgetEnforcer(tracker, &core.Budget{CallLimit: &limit}, zerolog.Nop())
	policy := newTestPolicy(3, enforcer)
	err := &core.Error{Type: core.ErrorTypeExecutionFailure, Retryable: true}

	if !policy.ShouldRetry(err, 1, true) {
		t.Fatal("ShouldRetry() = false with budget headroom")
	}
	tracker.RecordCall()
	if policy.ShouldRetry(err, 1, true) {
		t.Error("ShouldRetry() = true with exhausted budget")
	}
}

func TestRetryDelayBackoff(t *testing.T) {
	policy := newTestPolicy(5, nil)

	if got := policy.RetryDelay(1); got != 10*time.Millisecond {
		t.Errorf("RetryDelay(1) = %s, want 10ms", got)
	}
	if got := policy.RetryDelay(2); got != 20*time.Millisecond {
		t.Errorf("RetryDelay(2) = %s, want 20ms", got)
	}
	if got := policy.RetryDelay(3); got != 40*time.Millisecond {
		t.Errorf("RetryDelay(3) = %s, want 40ms", got)
	}
	// Uncapped backoff would be 160ms at attempt 5.
	if got := policy.RetryDelay(5); got != 100*time.Millisecond {
		t.Errorf("RetryDelay(5) = %s, want the 100ms cap", got)
	}
}

func TestRetryDelayJitterBounded(t *testing.T) {
	policy := newTestPolicy(3, nil)
	policy.jitter = func() float64 { return 1 }
	if got := policy.RetryDelay(1); got != 11*time.Millisecond {
		t.Errorf("RetryDelay(1) with full jitter = %s, want 11ms", got)
	}
}

func TestExecuteWithRetrySurfacesOriginalError(t *testing.T) {
	policy := newTestPolicy(3, nil)
	attempts := 0
	original := &core.TimeoutError{Operation: "tool.execute", Limit: time.Second}

	err := policy.ExecuteWithRetry(context.Background(), "test", true, func(context.Context) error {
		attempts++
		return original
	})
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	var terr *core.TimeoutError
	if !errors.As(err, &terr) || terr != original {
		t.Errorf("final error = %v (%T), want the original timeout error unchanged", err, err)
	}
}

func TestExecuteWithRetryStopsOnDenial(t *testing.T) {
	policy := newTestPolicy(3, nil)
	attempts := 0

	err := policy.ExecuteWithRetry(context.Background(), "test", true, func(context.Context) error {
		attempts++
		return &core.PermissionError{Missing: []string{"read"}}
	})
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1: denials are never retried", attempts)
	}
	var perr *core.PermissionError
	if !errors.As(err, &perr) {
		t.Errorf("error = %T, want *core.PermissionError", err)
	}
}

type countingRetrySink struct {
	sources []string
}

func (c *countingRetrySink) RecordRetryAttempt(source string) {
	c.sources = append(c.sources, source)
}

func TestExecuteWithRetryCountsAttempts(t *testing.T) {
	policy := newTestPolicy(3, nil)
	counter := &countingRetrySink{}
	policy.CountRetries(counter)

	_ = policy.ExecuteWithRetry(context.Background(), "tool.flaky", true, func(context.Context) error {
		return &core.TimeoutError{Operation: "op"}
	})

	// Three attempts mean two scheduled retries.
	if len(counter.sources) != 2 {
		t.Fatalf("recorded %d retries, want 2", len(counter.sources))
	}
	for _, source := range counter.sources {
		if source != "tool.flaky" {
			t.Errorf("retry source = %q, want tool.flaky", source)
		}
	}
}

func TestExecuteWithRetryEventualSuccess(t *testing.T) {
	policy := newTestPolicy(3, nil)
	attempts := 0

	err := policy.ExecuteWithRetry(context.Background(), "test", true, func(context.Context) error {
		attempts++
		if attempts < 2 {
			return &core.TimeoutError{Operation: "op"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithRetry() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}
