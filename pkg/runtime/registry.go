package runtime

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aegis-runtime/aegis/pkg/core"
)

// Registry is the in-memory lookup table for agents, tools, and
// services. Registration happens at setup; execution-time access is
// read-only, guarded by a single RWMutex.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]core.Agent
	tools    map[string]core.Tool
	services map[string]core.Service
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents:   make(map[string]core.Agent),
		tools:    make(map[string]core.Tool),
		services: make(map[string]core.Service),
	}
}

// RegisterAgent adds an agent; duplicate ids are rejected.
func (r *Registry) RegisterAgent(agent core.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[agent.ID()]; exists {
		return fmt.Errorf("agent %q already registered", agent.ID())
	}
	r.agents[agent.ID()] = agent
	return nil
}

// RegisterTool adds a tool; duplicate ids are rejected.
func (r *Registry) RegisterTool(tool core.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.ID()]; exists {
		return fmt.Errorf("tool %q already registered", tool.ID())
	}
	r.tools[tool.ID()] = tool
	return nil
}

// RegisterService adds a service; duplicate ids are rejected.
func (r *Registry) RegisterService(service core.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[service.ID()]; exists {
		return fmt.Errorf("service %q already registered", service.ID())
	}
	r.services[service.ID()] = service
	return nil
}

// GetAgent returns the agent with the given id.
func (r *Registry) GetAgent(id string) (core.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	return agent, ok
}

// ListAgents returns all registered agents sorted by id.
func (r *Registry) ListAgents() []core.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		out = append(out, agent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// GetTool returns the tool with the given id.
func (r *Registry) GetTool(id string) (core.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[id]
	return tool, ok
}

// GetService returns the service with the given id.
func (r *Registry) GetService(id string) (core.Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	service, ok := r.services[id]
	return service, ok
}
