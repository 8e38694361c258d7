// Package runtime implements the governed action-execution control plane:
// the per-run lifecycle state machine, deterministic routing, error
// classification, the retry policy, the action executor, and the Runtime
// facade that ties them together.
package runtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LifecycleState is the progress of one run.
type LifecycleState string

const (
	StateInitializing LifecycleState = "INITIALIZING"
	StateReady        LifecycleState = "READY"
	StateExecuting    LifecycleState = "EXECUTING"
	StateCompleted    LifecycleState = "COMPLETED"
	StateFailed       LifecycleState = "FAILED"
	StateTerminated   LifecycleState = "TERMINATED"
)

// Lifecycle event names recorded on each successful transition.
const (
	EventInitializationCompleted = "initialization_completed"
	EventInitializationFailed    = "initialization_failed"
	EventExecutionStarted        = "execution_started"
	EventExecutionCompleted      = "execution_completed"
	EventExecutionFailed         = "execution_failed"
	EventTerminationStarted      = "termination_started"
)

// transitions maps each state to its allowed targets and the event each
// transition records.
var transitions = map[LifecycleState]map[LifecycleState]string{
	StateInitializing: {
		StateReady:  EventInitializationCompleted,
		StateFailed: EventInitializationFailed,
	},
	StateReady: {
		StateExecuting:  EventExecutionStarted,
		StateTerminated: EventTerminationStarted,
	},
	StateExecuting: {
		StateCompleted:  EventExecutionCompleted,
		StateFailed:     EventExecutionFailed,
		StateTerminated: EventTerminationStarted,
	},
	StateCompleted: {},
	StateFailed: {
		StateTerminated: EventTerminationStarted,
	},
	StateTerminated: {},
}

// InvalidTransitionError reports a transition not present in the table.
type InvalidTransitionError struct {
	From LifecycleState
	To   LifecycleState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid lifecycle transition %s -> %s", e.From, e.To)
}

// LifecycleEvent is one ordered (event, metadata) record.
type LifecycleEvent struct {
	// Event is the transition's event name.
	Event string `json:"event"`

	// Metadata is caller-supplied transition context.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Timestamp records when the transition happened.
	Timestamp time.Time `json:"timestamp"`
}

// LifecycleManager tracks the progress of exactly one run. It starts in
// INITIALIZING, records an ordered event per transition, and emits no
// observability signals itself; callers do.
type LifecycleManager struct {
	mu     sync.Mutex
	runID  string
	state  LifecycleState
	events []LifecycleEvent
	logger zerolog.Logger
}

// NewLifecycleManager creates a manager in INITIALIZING for one run.
func NewLifecycleManager(runID string, logger zerolog.Logger) *LifecycleManager {
	return &LifecycleManager{
		runID:  runID,
		state:  StateInitializing,
		logger: logger.With().Str("component", "runtime.lifecycle").Str("run_id", runID).Logger(),
	}
}

// State returns the current state.
func (m *LifecycleManager) State() LifecycleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsTerminal reports whether the run can make no further progress. Only
// COMPLETED, FAILED, and TERMINATED are terminal.
func (m *LifecycleManager) IsTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return isTerminal(m.state)
}

func isTerminal(s LifecycleState) bool {
	return s == StateCompleted || s == StateFailed || s == StateTerminated
}

// Transition moves the run to the target state if the transition table
// allows it, appending the mapped event. Any other transition is
// rejected without changing state.
func (m *LifecycleManager) Transition(target LifecycleState, metadata map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := transitions[m.state][target]
	if !ok {
		m.logger.Warn().
			Str("from", string(m.state)).
			Str("to", string(target)).
			Msg("lifecycle transition rejected")
		return &InvalidTransitionError{From: m.state, To: target}
	}

	m.state = target
	m.events = append(m.events, LifecycleEvent{
		Event:     event,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	})
	m.logger.Debug().
		Str("state", string(target)).
		Str("event", event).
		Msg("lifecycle transition")
	return nil
}

// Events returns the ordered event records so far.
func (m *LifecycleManager) Events() []LifecycleEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LifecycleEvent, len(m.events))
	copy(out, m.events)
	return out
}
