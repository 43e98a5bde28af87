package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/brasilcep/cepbench/internal/loadtest/config"
)

// Types lists the supported executors.
func Types() []Type {
	return []Type{TypeConstantVUs, TypePerVUIterations}
}

// NewExecutor returns an uninitialized executor of type t.
func NewExecutor(t Type) (Executor, error) {
	switch t {
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	case TypePerVUIterations:
		return NewPerVUIterations(), nil
	default:
		return nil, fmt.Errorf("unknown executor type %q (supported: %v)", t, Types())
	}
}

// Start creates the executor cfg names and initializes it.
func Start(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}
	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}
	return exec, nil
}

// FromScenario parses a scenario's executor settings and starts the
// executor.
func FromScenario(ctx context.Context, name string, sc *config.ScenarioConfig) (Executor, *Config, error) {
	cfg, err := ConfigFromScenario(name, sc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert scenario config: %w", err)
	}
	exec, err := Start(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return exec, cfg, nil
}

type durationField struct {
	name string
	raw  string
	dst  *time.Duration
}

// ConfigFromScenario parses the duration strings of sc into a Config.
func ConfigFromScenario(name string, sc *config.ScenarioConfig) (*Config, error) {
	cfg := &Config{
		Name:       name,
		Type:       Type(sc.Executor),
		VUs:        sc.VUs,
		Iterations: int64(sc.Iterations),
	}

	fields := []durationField{
		{"duration", sc.Duration, &cfg.Duration},
		{"gracefulStop", sc.GracefulStop, &cfg.GracefulStop},
	}

	if sc.Pacing != nil {
		cfg.Pacing = &PacingConfig{Type: PacingType(sc.Pacing.Type)}
		if cfg.Pacing.Type == "" {
			cfg.Pacing.Type = PacingNone
		}
		fields = append(fields,
			durationField{"pacing duration", sc.Pacing.Duration, &cfg.Pacing.Duration},
			durationField{"pacing min", sc.Pacing.Min, &cfg.Pacing.Min},
			durationField{"pacing max", sc.Pacing.Max, &cfg.Pacing.Max},
		)
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := config.ParseDurationString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.dst = d
	}
	return cfg, nil
}
