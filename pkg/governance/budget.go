package governance

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-runtime/aegis/pkg/core"
)

// Budget dimension names reported in exhaustion errors and audit events.
const (
	BudgetTypeTime  = "time"
	BudgetTypeCalls = "calls"
	BudgetTypeCost  = "cost"
)

// BudgetTracker accumulates what one run has consumed. It is owned by
// exactly one run and shared by every action of that run; it must never
// be shared across runs.
type BudgetTracker struct {
	mu        sync.Mutex
	startTime time.Time
	callCount int64
	cost      float64
	clock     func() time.Time
}

// NewBudgetTracker creates a tracker; the run's clock starts now.
func NewBudgetTracker() *BudgetTracker {
	return newBudgetTracker(time.Now)
}

func newBudgetTracker(clock func() time.Time) *BudgetTracker {
	return &BudgetTracker{startTime: clock(), clock: clock}
}

// ElapsedTime returns the wall-clock time since the tracker was created.
func (t *BudgetTracker) ElapsedTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock().Sub(t.startTime)
}

// RecordCall increments the monotonic call counter.
func (t *BudgetTracker) RecordCall() {
	t.mu.Lock()
	t.callCount++
	t.mu.Unlock()
}

// CallCount returns the number of recorded calls.
func (t *BudgetTracker) CallCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.callCount
}

// RecordCost adds a non-negative cost to the accumulator. A negative
// cost fails fast: the accumulator is monotonic.
func (t *BudgetTracker) RecordCost(cost float64) error {
	if cost < 0 {
		return &core.ValidationError{Field: "cost", Message: "cost must be non-negative"}
	}
	t.mu.Lock()
	t.cost += cost
	t.mu.Unlock()
	return nil
}

// CostAccumulated returns the total recorded cost.
func (t *BudgetTracker) CostAccumulated() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cost
}

// BudgetEnforcer checks a tracker's consumption against declared limits.
type BudgetEnforcer struct {
	tracker *BudgetTracker
	budget  *core.Budget
	logger  zerolog.Logger
}

// NewBudgetEnforcer creates an enforcer for one run's tracker and its
// declared budget. A nil budget never fails.
func NewBudgetEnforcer(tracker *BudgetTracker, budget *core.Budget, logger zerolog.Logger) *BudgetEnforcer {
	return &BudgetEnforcer{
		tracker: tracker,
		budget:  budget,
		logger:  logger.With().Str("component", "governance.budget").Logger(),
	}
}

// Tracker returns the run's tracker.
func (e *BudgetEnforcer) Tracker() *BudgetTracker { return e.tracker }

// Check evaluates the dimensions in fixed order time, calls, cost and
// fails on the first limit crossed. The comparison is inclusive: a
// dimension fails once consumed >= limit. The fixed order decides which
// exhaustion is reported when several dimensions are exhausted at once,
// which keeps audit trails reproducible.
func (e *BudgetEnforcer) Check() error {
	if e.budget == nil {
		return nil
	}

	if e.budget.TimeLimitSeconds != nil {
		limit := *e.budget.TimeLimitSeconds
		elapsed := e.tracker.ElapsedTime().Seconds()
		if elapsed >= limit {
			e.logger.Warn().Float64("limit", limit).Float64("elapsed", elapsed).Msg("time budget exhausted")
			return &core.BudgetExceededError{BudgetType: BudgetTypeTime, Limit: limit, Consumed: elapsed}
		}
	}

	if e.budget.CallLimit != nil {
		limit := *e.budget.CallLimit
		calls := e.tracker.CallCount()
		if calls >= limit {
			e.logger.Warn().Int64("limit", limit).Int64("calls", calls).Msg("call budget exhausted")
			return &core.BudgetExceededError{BudgetType: BudgetTypeCalls, Limit: float64(limit), Consumed: float64(calls)}
		}
	}

	if e.budget.CostLimit != nil {
		limit := *e.budget.CostLimit
		cost := e.tracker.CostAccumulated()
		if cost >= limit {
			e.logger.Warn().Float64("limit", limit).Float64("cost", cost).Msg("cost budget exhausted")
			return &core.BudgetExceededError{BudgetType: BudgetTypeCost, Limit: limit, Consumed: cost}
		}
	}

	return nil
}
