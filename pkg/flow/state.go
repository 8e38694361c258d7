package flow

import "sync"

// HistoryEntry records one executed node or transition.
type HistoryEntry struct {
	// NodeID is the executed node, for node entries.
	NodeID string `json:"node_id,omitempty"`

	// FromNode and ToNode record a transition, for transition entries.
	FromNode string `json:"from_node,omitempty"`
	ToNode   string `json:"to_node,omitempty"`

	// Iteration is the engine iteration that produced the entry.
	Iteration int `json:"iteration,omitempty"`

	// Result is the node result, for node entries.
	Result map[string]interface{} `json:"result,omitempty"`
}

// State is a point-in-time snapshot of a flow execution.
type State struct {
	CurrentNode string                 `json:"current_node"`
	StateData   map[string]interface{} `json:"state_data"`
	History     []HistoryEntry         `json:"history"`
}

// StateManager tracks the current node, the accumulated state data, and
// the ordered execution history of one flow run. History is append-only
// so a completed flow can be inspected and replayed.
type StateManager struct {
	mu      sync.Mutex
	current string
	data    map[string]interface{}
	history []HistoryEntry
}

// NewStateManager creates a state manager positioned at the initial node.
func NewStateManager(initialNode string, initialState map[string]interface{}) *StateManager {
	data := make(map[string]interface{}, len(initialState))
	for k, v := range initialState {
		data[k] = v
	}
	return &StateManager{
		current: initialNode,
		data:    data,
	}
}

// CurrentNode returns the id of the node the flow is positioned at.
func (m *StateManager) CurrentNode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// StateData returns a copy of the accumulated state data.
func (m *StateManager) StateData() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]interface{}, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

// History returns a copy of the execution history, oldest first.
func (m *StateManager) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

// UpdateState merges updates into the state data.
func (m *StateManager) UpdateState(updates map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range updates {
		m.data[k] = v
	}
}

// RecordNode appends a node execution entry to the history.
func (m *StateManager) RecordNode(nodeID string, iteration int, result map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, HistoryEntry{
		NodeID:    nodeID,
		Iteration: iteration,
		Result:    result,
	})
}

// TransitionTo records the transition and moves the flow to the node.
func (m *StateManager) TransitionTo(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, HistoryEntry{
		FromNode: m.current,
		ToNode:   nodeID,
	})
	m.current = nodeID
}

// Snapshot returns the full flow state.
func (m *StateManager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := make(map[string]interface{}, len(m.data))
	for k, v := range m.data {
		data[k] = v
	}
	history := make([]HistoryEntry, len(m.history))
	copy(history, m.history)
	return State{
		CurrentNode: m.current,
		StateData:   data,
		History:     history,
	}
}
