// Package cli implements the cepbench command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brasilcep/cepbench/internal/version"
)

// Process exit codes.
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitUsage  = 2
)

// envPrefix prefixes every environment variable bound to a flag, e.g.
// --wait-ready is read from CEPBENCH_WAIT_READY.
const envPrefix = "CEPBENCH"

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func usageError(format string, args ...interface{}) error {
	return &ExitError{Code: ExitUsage, Err: fmt.Errorf(format, args...)}
}

func failure(err error) error {
	return &ExitError{Code: ExitFailed, Err: err}
}

// NewRootCmd builds the cepbench command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cepbench",
		Short: "Load test for the BrasilCEP postal code lookup API",
		Long: `cepbench drives concurrent virtual users against a CEP lookup service.
Each iteration requests /cep/{variant} with a digits-only or hyphenated
spelling of the same postal code, checks for status 200 and pauses.

The built-in run is 100 VUs for 30s, passing when p90 < 200ms:
  cepbench run --host brasilcep-api --port 8080

Every flag can be set from the environment, e.g. CEPBENCH_VUS=50.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newProbeCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newScenarioCmd())

	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return run(NewRootCmd(), os.Args[1:])
}

func run(cmd *cobra.Command, args []string) int {
	cmd.SetArgs(args)
	err := cmd.Execute()
	return exitCode(err, cmd.ErrOrStderr())
}

// exitCode reports err on w and maps it to an exit code. Errors raised by
// cobra itself (unknown flags, bad arguments) are usage errors.
func exitCode(err error, w io.Writer) int {
	if err == nil {
		return ExitOK
	}

	fmt.Fprintf(w, "Error: %v\n", err)

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitUsage
}

// newViper returns a viper instance reading CEPBENCH_* variables for the
// flags of cmd. Each command gets its own instance since flag names repeat
// across commands.
func newViper(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(cmd.Flags())
	return v
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// overridden reports whether key was set on the command line or in the
// environment rather than left at its default.
func overridden(cmd *cobra.Command, key string) bool {
	if cmd.Flags().Changed(key) {
		return true
	}
	_, ok := os.LookupEnv(envName(key))
	return ok
}
