package cli

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brasilcep/cepbench/internal/cep"
)

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().String("host", cep.DefaultHost, "Target host")
	cmd.Flags().Int("port", cep.DefaultPort, "Target port")
	cmd.Flags().Duration("timeout", 30*time.Second, "HTTP request timeout")
}

func targetFrom(v *viper.Viper) (cep.Target, error) {
	t := cep.Target{
		Scheme: cep.DefaultScheme,
		Host:   v.GetString("host"),
		Port:   v.GetInt("port"),
	}
	if t.Host == "" {
		return t, usageError("host cannot be empty")
	}
	if t.Port <= 0 || t.Port > 65535 {
		return t, usageError("port out of range: %d", t.Port)
	}
	return t, nil
}

func addScenarioFlags(cmd *cobra.Command) {
	defaults := cep.DefaultScenarioOptions()

	addTargetFlags(cmd)
	cmd.Flags().Int("vus", defaults.VUs, "Number of virtual users")
	cmd.Flags().Duration("duration", defaults.Duration, "How long new iterations are started")
	cmd.Flags().Duration("pause", defaults.Pause, "Pause after each iteration")
	cmd.Flags().StringArray("threshold", defaults.Thresholds, "Latency threshold on http_req_duration (repeatable)")
}

// scenarioOptions reads the built-in scenario parameters from flags and
// environment.
func scenarioOptions(cmd *cobra.Command, v *viper.Viper) (cep.ScenarioOptions, error) {
	opts := cep.DefaultScenarioOptions()

	target, err := targetFrom(v)
	if err != nil {
		return opts, err
	}
	opts.Target = target
	opts.VUs = v.GetInt("vus")
	opts.Duration = v.GetDuration("duration")
	opts.Pause = v.GetDuration("pause")
	opts.Timeout = v.GetDuration("timeout")

	thresholds, err := cmd.Flags().GetStringArray("threshold")
	if err != nil {
		return opts, usageError("invalid --threshold: %v", err)
	}
	opts.Thresholds = thresholds

	switch {
	case opts.VUs <= 0:
		return opts, usageError("--vus must be greater than 0")
	case opts.Duration <= 0:
		return opts, usageError("--duration must be greater than 0")
	case opts.Pause < 0:
		return opts, usageError("--pause cannot be negative")
	case opts.Timeout < 0:
		return opts, usageError("--timeout cannot be negative")
	}
	return opts, nil
}
