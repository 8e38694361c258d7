package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aegis-runtime/aegis/pkg/config"
	"github.com/aegis-runtime/aegis/pkg/flow"
	"github.com/aegis-runtime/aegis/pkg/governance"
)

func newValidateCommand() *cobra.Command {
	var policyPaths []string

	cmd := &cobra.Command{
		Use:   "validate [flow files...]",
		Short: "Validate configuration, flows, and policies",
		Long: `Validate the runtime configuration document, flow definitions, and
policy files.

This command checks:
  - YAML syntax and struct-level validation of the configuration
  - CUE schema conformance of configured flows
  - Standalone flow documents passed as arguments
  - Policy files (JSON pattern maps and Rego modules) compile`,
		Example: `  # Validate the default configuration
  aegis validate

  # Validate a specific configuration and extra flow documents
  aegis validate -c ./config/aegis.yaml ./flows/triage.yaml

  # Validate policy files as well
  aegis validate --policies ./policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			failures := 0

			cfg, err := loadConfigIfPresent()
			if err != nil {
				log.Error().Err(err).Msg("configuration invalid")
				failures++
			} else if cfg != nil {
				log.Info().
					Int("agents", len(cfg.Agents)).
					Int("tools", len(cfg.Tools)).
					Int("services", len(cfg.Services)).
					Int("flows", len(cfg.Flows)).
					Msg("configuration valid")
			}

			for _, path := range args {
				def, err := flow.LoadFile(path)
				if err != nil {
					log.Error().Err(err).Str("path", path).Msg("flow invalid")
					failures++
					continue
				}
				log.Info().
					Str("path", path).
					Str("flow_id", def.FlowID).
					Int("nodes", len(def.Nodes)).
					Msg("flow valid")
			}

			if len(policyPaths) > 0 {
				loader := governance.NewPolicyLoader(log.Logger)
				policies, err := loader.LoadFromPaths(policyPaths)
				if err != nil {
					log.Error().Err(err).Msg("policies failed to load")
					failures++
				} else if _, err := governance.NewPolicyEngine(cmd.Context(), policies, log.Logger); err != nil {
					log.Error().Err(err).Msg("policies failed to compile")
					failures++
				} else {
					log.Info().Int("patterns", len(policies)).Msg("policies valid")
				}
			}

			if failures > 0 {
				return fmt.Errorf("validation failed: %d problem(s) found", failures)
			}
			fmt.Println("All inputs valid")
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policyPaths, "policies", nil, "policy files or directories to validate")

	return cmd
}

// loadConfigIfPresent loads the configuration when one is reachable. A
// missing default file is not an error unless --config was given
// explicitly.
func loadConfigIfPresent() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	if path := os.Getenv(config.EnvConfigPath); path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(config.DefaultConfigPath); err != nil {
		return nil, nil
	}
	return config.Load(config.DefaultConfigPath)
}
