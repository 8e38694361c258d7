package runtime

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aegis-runtime/aegis/pkg/core"
)

// Router selects a decision unit by id or capability set. Routing is
// deterministic by contract: no fallback from id lookup, no heuristic or
// semantic matching, ties broken by ascending agent id.
type Router struct {
	agents core.AgentRegistry
	logger zerolog.Logger
}

// NewRouter creates a router over the agent registry.
func NewRouter(agents core.AgentRegistry, logger zerolog.Logger) *Router {
	return &Router{
		agents: agents,
		logger: logger.With().Str("component", "runtime.router").Logger(),
	}
}

// Select resolves an agent. With an agentID the lookup is exact and
// failure is final. With requiredCapabilities every agent whose
// capability set is a superset qualifies and the lowest id wins. With
// neither selector, selection fails: implicit routing is disallowed.
func (r *Router) Select(agentID string, requiredCapabilities []string) (core.Agent, error) {
	if agentID != "" {
		agent, ok := r.agents.GetAgent(agentID)
		if !ok {
			return nil, &core.RoutingError{
				AgentID: agentID,
				Message: fmt.Sprintf("no agent registered with id %q", agentID),
			}
		}
		return agent, nil
	}

	if len(requiredCapabilities) > 0 {
		var matches []core.Agent
		for _, agent := range r.agents.ListAgents() {
			if hasCapabilities(agent, requiredCapabilities) {
				matches = append(matches, agent)
			}
		}
		if len(matches) == 0 {
			return nil, &core.RoutingError{
				RequiredCapabilities: requiredCapabilities,
				Message:              fmt.Sprintf("no agent provides capabilities [%s]", strings.Join(requiredCapabilities, ", ")),
			}
		}
		sort.Slice(matches, func(i, j int) bool { return matches[i].ID() < matches[j].ID() })
		selected := matches[0]
		r.logger.Debug().
			Str("agent_id", selected.ID()).
			Strs("capabilities", requiredCapabilities).
			Int("candidates", len(matches)).
			Msg("agent selected by capabilities")
		return selected, nil
	}

	return nil, &core.RoutingError{
		Message: "selection requires an agent id or a capability set",
	}
}

func hasCapabilities(agent core.Agent, required []string) bool {
	caps := make(map[string]struct{})
	for _, c := range agent.Capabilities() {
		caps[c] = struct{}{}
	}
	for _, c := range required {
		if _, ok := caps[c]; !ok {
			return false
		}
	}
	return true
}
