package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/brasilcep/cepbench/internal/cep"
	"github.com/brasilcep/cepbench/internal/loadtest/config"
)

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Print the built-in scenario as a YAML test file",
		Long: `Print the built-in CEP scenario, with the current flags applied, as a
YAML document accepted by "cepbench run --config".`,
		Args: cobra.NoArgs,
	}
	addScenarioFlags(cmd)
	v := newViper(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		opts, err := scenarioOptions(cmd, v)
		if err != nil {
			return err
		}

		cfg := cep.Scenario(opts)
		config.ApplyDefaults(cfg)

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return failure(fmt.Errorf("failed to encode scenario: %w", err))
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	return cmd
}
