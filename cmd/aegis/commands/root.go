package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aegis",
		Short: "Aegis - Governed Agent Execution Runtime",
		Long: `Aegis is a governed execution runtime for pluggable agents.

Every side effect an agent requests passes through a fixed governance
pipeline: budget, permissions, policy, and audit. Orchestration is
declared in YAML flows with Starlark condition expressions.

Features:
  - Immutable execution contexts with per-run budgets
  - Permission, policy (inline or Rego), and budget gates on every action
  - Declarative flow engine with agent, tool, and condition nodes
  - Structured audit trail for every governed decision
  - Governed key-value service on memory or SQLite backends`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRunCommand())

	return rootCmd
}
