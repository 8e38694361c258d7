package runtime

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-runtime/aegis/pkg/core"
	"github.com/aegis-runtime/aegis/pkg/governance"
)

// nonRetryableTypes are refused categorically, regardless of the error's
// own retryable flag. Governance denials must never be retried.
var nonRetryableTypes = map[core.ErrorType]struct{}{
	core.ErrorTypeValidation:     {},
	core.ErrorTypePermission:     {},
	core.ErrorTypeBudgetExceeded: {},
}

// RetryCounter receives one increment per scheduled retry.
// *telemetry.Metrics satisfies it.
type RetryCounter interface {
	RecordRetryAttempt(source string)
}

// RetryPolicy decides whether and when a failed operation runs again.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, first try included.
	MaxAttempts int

	// InitialDelay seeds the exponential backoff.
	InitialDelay time.Duration

	// MaxDelay caps the computed backoff before jitter.
	MaxDelay time.Duration

	// Base is the backoff multiplier per attempt.
	Base float64

	enforcer *governance.BudgetEnforcer
	counter  RetryCounter
	logger   zerolog.Logger
	sleep    func(time.Duration)
	jitter   func() float64
}

// NewRetryPolicy creates a policy with the given attempt cap and backoff
// parameters. A non-nil enforcer is re-checked before every retry so an
// exhausted budget stops the loop early.
func NewRetryPolicy(maxAttempts int, initialDelay, maxDelay time.Duration, base float64, enforcer *governance.BudgetEnforcer, logger zerolog.Logger) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if base <= 1 {
		base = 2
	}
	return &RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		Base:         base,
		enforcer:     enforcer,
		logger:       logger.With().Str("component", "runtime.retry").Logger(),
		sleep:        time.Sleep,
		jitter:       rand.Float64,
	}
}

// CountRetries routes every scheduled retry to the given counter.
func (p *RetryPolicy) CountRetries(counter RetryCounter) {
	p.counter = counter
}

// ShouldRetry decides whether another attempt is allowed after a
// classified failure. Refusals, in order: attempts exhausted, error not
// retryable, operation not idempotent, category refused outright, live
// budget exhausted.
func (p *RetryPolicy) ShouldRetry(cerr *core.Error, attempt int, idempotent bool) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	if cerr == nil || !cerr.Retryable {
		return false
	}
	if !idempotent {
		return false
	}
	if _, refused := nonRetryableTypes[cerr.Type]; refused {
		return false
	}
	if p.enforcer != nil {
		if err := p.enforcer.Check(); err != nil {
			p.logger.Debug().Err(err).Int("attempt", attempt).Msg("retry refused: budget exhausted")
			return false
		}
	}
	return true
}

// RetryDelay computes the wait before the given attempt's retry:
// exponential backoff capped at MaxDelay, plus up to 10% jitter.
func (p *RetryPolicy) RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Base, float64(attempt-1))
	if limit := float64(p.MaxDelay); p.MaxDelay > 0 && delay > limit {
		delay = limit
	}
	delay += delay * 0.1 * p.jitter()
	return time.Duration(delay)
}

// ExecuteWithRetry runs the operation up to MaxAttempts times, sleeping
// the computed delay between attempts. Failures are classified only to
// drive the retry decision; the final attempt's original error is
// returned unchanged.
func (p *RetryPolicy) ExecuteWithRetry(ctx context.Context, source string, idempotent bool, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		cerr := Classify(lastErr, source)
		if !p.ShouldRetry(cerr, attempt, idempotent) {
			return lastErr
		}

		delay := p.RetryDelay(attempt)
		if p.counter != nil {
			p.counter.RecordRetryAttempt(source)
		}
		p.logger.Debug().
			Int("attempt", attempt).
			Dur("delay", delay).
			Str("error_type", string(cerr.Type)).
			Msg("retrying after failure")
		p.sleep(delay)
	}
	return lastErr
}
