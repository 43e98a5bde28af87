package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brasilcep/cepbench/internal/loadtest/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a test file against the schema and semantic rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadTestFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%d scenarios)\n", args[0], len(cfg.Scenarios))
			return nil
		},
	}
}

// loadTestFile reads, schema-checks, decodes and validates a test file.
// Every failure is a usage error.
func loadTestFile(path string) (*config.TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, usageError("failed to read config file: %w", err)
	}

	if err := config.ValidateDocument(data, path); err != nil {
		return nil, usageError("%s does not match the schema: %w", path, err)
	}

	cfg, err := config.ParseConfig(data, path)
	if err != nil {
		return nil, usageError("%w", err)
	}

	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, usageError("invalid configuration: %w", err)
	}
	return cfg, nil
}
