package cep

import (
	"time"

	"github.com/brasilcep/cepbench/internal/loadtest/config"
)

// Names used by the built-in scenario.
const (
	ScenarioName = "cep_lookup"
	DatasetName  = "cep"
	RequestName  = "get cep"
	CheckName    = "status 200"
)

// ScenarioOptions parameterizes the built-in scenario.
type ScenarioOptions struct {
	Target     Target
	Variants   *VariantSet
	VUs        int
	Duration   time.Duration
	Pause      time.Duration
	Timeout    time.Duration
	Thresholds []string
}

// DefaultScenarioOptions returns 100 VUs for 30s against the default
// target, pausing 100ms after each lookup, passing when p90 < 200ms.
func DefaultScenarioOptions() ScenarioOptions {
	return ScenarioOptions{
		Target:     DefaultTarget(),
		Variants:   DefaultVariants(),
		VUs:        100,
		Duration:   30 * time.Second,
		Pause:      100 * time.Millisecond,
		Timeout:    30 * time.Second,
		Thresholds: []string{"p90 < 200ms"},
	}
}

// Scenario builds the load test: each iteration picks a variant, GETs
// {baseUrl}/cep/{variant}, checks for status 200 and pauses.
func Scenario(opts ScenarioOptions) *config.TestConfig {
	if opts.Variants == nil {
		opts.Variants = DefaultVariants()
	}

	pacing := &config.PacingConfig{Type: "none"}
	if opts.Pause > 0 {
		pacing = &config.PacingConfig{Type: "constant", Duration: opts.Pause.String()}
	}

	var thresholds *config.ThresholdsConfig
	if len(opts.Thresholds) > 0 {
		thresholds = &config.ThresholdsConfig{
			HTTPReqDuration: append([]string(nil), opts.Thresholds...),
		}
	}

	return &config.TestConfig{
		Name:        "CEP lookup",
		Description: "GET /cep/{variant} with digits-only and hyphenated spellings of " + opts.Variants.Canonical(),
		Settings: config.GlobalSettings{
			BaseURL: opts.Target.Origin(),
			Timeout: config.Duration(opts.Timeout),
		},
		Scenarios: map[string]*config.ScenarioConfig{
			ScenarioName: {
				Executor: config.ExecutorConstantVUs,
				VUs:      opts.VUs,
				Duration: opts.Duration.String(),
				Pacing:   pacing,
				Datasets: map[string][]string{
					DatasetName: opts.Variants.Variants(),
				},
				Requests: []config.RequestConfig{
					{
						Name:   RequestName,
						Method: "GET",
						URL:    "{{baseUrl}}/cep/{{" + DatasetName + "}}",
						Checks: []config.CheckConfig{
							{Name: CheckName, Type: "status", Condition: "eq", Value: 200},
						},
					},
				},
			},
		},
		Thresholds: thresholds,
	}
}
