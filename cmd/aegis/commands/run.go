package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aegis-runtime/aegis/pkg/core"
	"github.com/aegis-runtime/aegis/pkg/flow"
	"github.com/aegis-runtime/aegis/pkg/runtime"
	"github.com/aegis-runtime/aegis/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var (
		initiator string
		grants    []string
		inputs    []string
		agentID   string
		maxCalls  int64
		costLimit float64
		timeLimit float64
	)

	cmd := &cobra.Command{
		Use:   "run [flow file]",
		Short: "Run a flow or agent against the demo registry",
		Long: `Run a flow document, or a single agent, against the built-in demo
registry (echo agent, search tool, memory-backed KV service).

Every requested action passes the full governance pipeline, so this is
a quick way to observe budget, permission, and policy behavior.`,
		Example: `  # Run the echo agent with a query and a call budget
  aegis run --input query="hello" --grant search --grant kv.set --max-calls 10

  # Run a flow document
  aegis run ./flows/triage.yaml --grant search --grant kv.set`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := parseInputs(inputs)
			if err != nil {
				return err
			}

			tcfg := telemetry.DefaultConfig()
			if verbose {
				tcfg.Logging.Level = "debug"
			}
			sink, err := telemetry.NewSink(tcfg)
			if err != nil {
				return fmt.Errorf("failed to build telemetry: %w", err)
			}
			defer func() {
				if cerr := sink.Close(cmd.Context()); cerr != nil {
					log.Warn().Err(cerr).Msg("telemetry shutdown failed")
				}
			}()
			logger := sink.Logger().Zerolog()

			reg, err := demoRegistry(logger)
			if err != nil {
				return fmt.Errorf("failed to build demo registry: %w", err)
			}
			rt, err := runtime.New(runtime.Options{
				Registry: reg,
				Sink:     sink,
				Logger:   logger,
			})
			if err != nil {
				return fmt.Errorf("failed to build runtime: %w", err)
			}

			permissions := make(map[string]interface{}, len(grants))
			for _, g := range grants {
				permissions[g] = true
			}

			ec, err := rt.ContextFactory().Create(core.ContextParams{
				Initiator:   initiator,
				Permissions: permissions,
				Budget:      buildBudget(maxCalls, costLimit, timeLimit),
			})
			if err != nil {
				return err
			}
			log.Info().Str("run_id", ec.RunID()).Msg("execution context created")

			if len(args) == 1 {
				return runFlow(cmd, rt, ec, args[0], input)
			}
			return runAgent(cmd, rt, ec, agentID, input)
		},
	}

	cmd.Flags().StringVar(&initiator, "initiator", "user:cli", "identity starting the run")
	cmd.Flags().StringArrayVar(&grants, "grant", nil, "permission to grant (repeatable)")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "input key=value pair (repeatable)")
	cmd.Flags().StringVar(&agentID, "agent", "echo_agent", "agent to run when no flow file is given")
	cmd.Flags().Int64Var(&maxCalls, "max-calls", 0, "call budget, 0 for unbounded")
	cmd.Flags().Float64Var(&costLimit, "cost-limit", 0, "cost budget, 0 for unbounded")
	cmd.Flags().Float64Var(&timeLimit, "time-limit", 0, "time budget in seconds, 0 for unbounded")

	return cmd
}

func runFlow(cmd *cobra.Command, rt *runtime.Runtime, ec *core.ExecutionContext, path string, input map[string]interface{}) error {
	def, err := flow.LoadFile(path)
	if err != nil {
		return err
	}

	engine, err := flow.NewEngine(def, rt, ec, log.Logger)
	if err != nil {
		return err
	}

	result, err := engine.Execute(cmd.Context(), input)
	if err != nil {
		return err
	}

	log.Info().
		Str("flow_id", result.FlowID).
		Str("status", result.Status).
		Str("final_node", result.FinalNode).
		Int("history", len(result.History)).
		Msg("flow completed")
	return printResult(result)
}

func runAgent(cmd *cobra.Command, rt *runtime.Runtime, ec *core.ExecutionContext, agentID string, input map[string]interface{}) error {
	result, err := rt.Execute(cmd.Context(), runtime.ExecuteRequest{
		AgentID: agentID,
		Input:   input,
		Context: ec,
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("agent_id", agentID).
		Str("status", result.Status).
		Int("actions", len(result.Actions)).
		Int("errors", len(result.Errors)).
		Msg("agent completed")
	return printResult(result)
}

func printResult(result interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	if !jsonOutput {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(result)
}

func parseInputs(pairs []string) (map[string]interface{}, error) {
	input := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --input %q, expected key=value", pair)
		}
		input[key] = value
	}
	return input, nil
}

func buildBudget(maxCalls int64, costLimit, timeLimit float64) *core.Budget {
	if maxCalls <= 0 && costLimit <= 0 && timeLimit <= 0 {
		return nil
	}
	budget := &core.Budget{}
	if maxCalls > 0 {
		budget.CallLimit = &maxCalls
	}
	if costLimit > 0 {
		budget.CostLimit = &costLimit
	}
	if timeLimit > 0 {
		budget.TimeLimitSeconds = &timeLimit
	}
	return budget
}
