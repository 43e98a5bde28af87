package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/brasilcep/cepbench/internal/cep"
	"github.com/brasilcep/cepbench/internal/logging"
	"github.com/brasilcep/cepbench/internal/loadtest/config"
	"github.com/brasilcep/cepbench/internal/loadtest/engine"
	"github.com/brasilcep/cepbench/internal/loadtest/metrics"
	"github.com/brasilcep/cepbench/internal/loadtest/output"
)

var errThresholdsFailed = errors.New("one or more thresholds failed")

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the CEP load test",
		Long: `Run the built-in CEP scenario, or the test file given with --config.

Built-in scenario:
  cepbench run --vus 100 --duration 30s --threshold "p90 < 200ms"

Test file, with the first scenario's VUs raised:
  cepbench run --config cep.yaml --vus 200

The exit code is 0 when every threshold passed, 1 when a threshold failed
or the run was aborted and 2 on usage or configuration errors.`,
		Args: cobra.NoArgs,
	}

	addScenarioFlags(cmd)
	f := cmd.Flags()
	f.String("config", "", "Test file (YAML or JSON) replacing the built-in scenario")
	f.Bool("json", false, "Print the result as JSON instead of the summary")
	f.String("output", "", "Also write the JSON result to this file")
	f.Bool("quiet", false, "Only print PASSED or FAILED")
	f.Bool("verbose", false, "Log at debug level")
	f.String("log-format", logging.FormatConsole, "Log format: console or json")
	f.Duration("wait-ready", 0, "Wait up to this long for the target health check before starting")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	f.Int64("seed", 0, "Seed for virtual user randomness (0 picks one)")
	f.Bool("no-color", false, "Disable colored output")

	v := newViper(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runLoadTest(cmd, v)
	}
	return cmd
}

func runLoadTest(cmd *cobra.Command, v *viper.Viper) error {
	cfg, target, err := buildRunConfig(cmd, v)
	if err != nil {
		return err
	}

	level := "warn"
	if v.GetBool("verbose") {
		level = "debug"
	}
	logger := logging.New(level, v.GetString("log-format"))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if wait := v.GetDuration("wait-ready"); wait > 0 {
		client := cep.NewClient(target, cep.WithTimeout(time.Duration(cfg.Settings.Timeout)), cep.WithLogger(logger))
		if err := client.WaitReady(ctx, wait, 500*time.Millisecond); err != nil {
			return failure(err)
		}
	}

	m := metrics.NewEngine()
	defer m.Stop()

	if addr := v.GetString("metrics-addr"); addr != "" {
		srv, err := startMetricsServer(addr, m, logger)
		if err != nil {
			return failure(err)
		}
		defer srv.Shutdown()
	}

	opts := []engine.Option{engine.WithLogger(logger), engine.WithMetricsEngine(m)}
	if seed := v.GetInt64("seed"); seed != 0 {
		opts = append(opts, engine.WithSeed(seed))
	}

	eng, err := engine.NewEngine(cfg, opts...)
	if err != nil {
		return usageError("%w", err)
	}

	out := cmd.OutOrStdout()
	jsonOut := v.GetBool("json")
	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName:      cfg.Name,
		ExecutorType:  executorLabel(cfg),
		TotalDuration: eng.EstimatedDuration(),
		Writer:        out,
		Quiet:         v.GetBool("quiet") || jsonOut,
		NoColor:       v.GetBool("no-color"),
	})
	console.PrintHeader()

	watchCtx, stopWatch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		console.Watch(watchCtx, eng, targetVUs(cfg))
	}()

	result, runErr := eng.Run(ctx)
	stopWatch()
	wg.Wait()

	if result == nil {
		return failure(runErr)
	}

	if jsonOut {
		if err := output.WriteJSON(out, result); err != nil {
			return failure(err)
		}
	} else {
		console.PrintSummary(result)
	}

	if path := v.GetString("output"); path != "" {
		if err := writeResultFile(path, result); err != nil {
			return failure(err)
		}
		logger.Info("result written", zap.String("path", path))
	}

	if runErr != nil {
		return failure(fmt.Errorf("run aborted: %w", runErr))
	}
	if !result.Passed {
		return failure(errThresholdsFailed)
	}
	return nil
}

// buildRunConfig returns the test to run and the target used for the
// readiness check.
func buildRunConfig(cmd *cobra.Command, v *viper.Viper) (*config.TestConfig, cep.Target, error) {
	path := v.GetString("config")
	if path == "" {
		opts, err := scenarioOptions(cmd, v)
		if err != nil {
			return nil, cep.Target{}, err
		}
		return cep.Scenario(opts), opts.Target, nil
	}

	cfg, err := loadTestFile(path)
	if err != nil {
		return nil, cep.Target{}, err
	}
	if err := applyOverrides(cmd, v, cfg); err != nil {
		return nil, cep.Target{}, err
	}

	target := cep.DefaultTarget()
	if cfg.Settings.BaseURL != "" {
		t, err := cep.ParseTarget(cfg.Settings.BaseURL)
		if err != nil {
			return nil, cep.Target{}, usageError("settings.baseUrl: %w", err)
		}
		target = t
	}
	return cfg, target, nil
}

// applyOverrides applies explicitly set flags to a loaded test file.
// Scenario flags apply to the first scenario in name order.
func applyOverrides(cmd *cobra.Command, v *viper.Viper, cfg *config.TestConfig) error {
	if overridden(cmd, "host") || overridden(cmd, "port") {
		target, err := targetFrom(v)
		if err != nil {
			return err
		}
		cfg.Settings.BaseURL = target.Origin()
	}
	if overridden(cmd, "timeout") {
		cfg.Settings.Timeout = config.Duration(v.GetDuration("timeout"))
	}
	if cmd.Flags().Changed("threshold") {
		thresholds, _ := cmd.Flags().GetStringArray("threshold")
		if cfg.Thresholds == nil {
			cfg.Thresholds = &config.ThresholdsConfig{}
		}
		cfg.Thresholds.HTTPReqDuration = thresholds
	}

	names := make([]string, 0, len(cfg.Scenarios))
	for name := range cfg.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	sc := cfg.Scenarios[names[0]]

	if overridden(cmd, "vus") {
		sc.VUs = v.GetInt("vus")
	}
	if overridden(cmd, "duration") {
		sc.Duration = v.GetDuration("duration").String()
	}
	if overridden(cmd, "pause") {
		if pause := v.GetDuration("pause"); pause > 0 {
			sc.Pacing = &config.PacingConfig{Type: "constant", Duration: pause.String()}
		} else {
			sc.Pacing = &config.PacingConfig{Type: "none"}
		}
	}
	return nil
}

func executorLabel(cfg *config.TestConfig) string {
	if len(cfg.Scenarios) != 1 {
		return fmt.Sprintf("%d scenarios", len(cfg.Scenarios))
	}
	for _, sc := range cfg.Scenarios {
		return sc.Executor
	}
	return ""
}

// targetVUs is the VU count shown next to the active count: the sum over
// scenarios, or the largest one when they run sequentially.
func targetVUs(cfg *config.TestConfig) int {
	sequential := cfg.Options != nil && cfg.Options.Sequential
	total := 0
	for _, sc := range cfg.Scenarios {
		if sequential {
			if sc.VUs > total {
				total = sc.VUs
			}
			continue
		}
		total += sc.VUs
	}
	return total
}

func writeResultFile(path string, result *engine.TestResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := output.WriteJSON(f, result); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
