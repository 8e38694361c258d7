package commands

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aegis-runtime/aegis/pkg/core"
	"github.com/aegis-runtime/aegis/pkg/runtime"
	"github.com/aegis-runtime/aegis/pkg/stores"
)

// The demo registry backs `aegis run`: an echo agent that turns a query
// into governed actions, a mock search tool, and a memory-backed KV
// service. It exists so flows can be smoke-tested without writing code.

type echoAgent struct{}

func (echoAgent) ID() string { return "echo_agent" }

func (echoAgent) Capabilities() []string { return []string{"query", "search"} }

func (echoAgent) Run(_ context.Context, input map[string]interface{}, _ *core.ExecutionContext) (*core.AgentResult, error) {
	query, _ := input["query"].(string)

	var actions []core.Action
	if query != "" {
		actions = append(actions,
			core.NewToolAction("search_tool", map[string]interface{}{"query": query}),
			core.NewServiceAction("kv", "set", map[string]interface{}{
				"key":   "last_query",
				"value": query,
			}),
		)
	}

	return &core.AgentResult{
		Status:  core.StatusSuccess,
		Output:  map[string]interface{}{"query": query, "processed": true},
		Actions: actions,
		Metrics: map[string]float64{"action_count": float64(len(actions))},
	}, nil
}

type searchTool struct{}

func (searchTool) ID() string { return "search_tool" }

func (searchTool) PermissionsRequired() []string { return []string{"search"} }

func (searchTool) Execute(_ context.Context, input map[string]interface{}, _ *core.ExecutionContext) (*core.TargetResult, error) {
	query, _ := input["query"].(string)

	results := []interface{}{
		map[string]interface{}{"title": "Result 1 for " + query, "url": "https://example.com/1"},
		map[string]interface{}{"title": "Result 2 for " + query, "url": "https://example.com/2"},
	}

	return &core.TargetResult{
		Status: core.StatusSuccess,
		Output: map[string]interface{}{"results": results, "count": len(results)},
		Metrics: map[string]float64{
			"result_count": float64(len(results)),
			"cost":         1,
		},
	}, nil
}

func demoRegistry(logger zerolog.Logger) (*runtime.Registry, error) {
	reg := runtime.NewRegistry()
	if err := reg.RegisterAgent(echoAgent{}); err != nil {
		return nil, err
	}
	if err := reg.RegisterTool(searchTool{}); err != nil {
		return nil, err
	}
	if err := reg.RegisterService(stores.NewKVService("kv", stores.NewMemoryStore(), logger)); err != nil {
		return nil, err
	}
	return reg, nil
}
