package executor_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/brasilcep/cepbench/internal/loadtest/config"
	"github.com/brasilcep/cepbench/internal/loadtest/executor"
)

func TestNewExecutor(t *testing.T) {
	tests := []struct {
		typ     executor.Type
		wantErr bool
	}{
		{executor.TypeConstantVUs, false},
		{executor.TypePerVUIterations, false},
		{"ramping-vus", true},
		{"constant-arrival-rate", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			exec, err := executor.NewExecutor(tt.typ)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewExecutor(%q) error = %v, wantErr %v", tt.typ, err, tt.wantErr)
			}
			if err == nil && exec.Type() != tt.typ {
				t.Errorf("Type() = %v, want %v", exec.Type(), tt.typ)
			}
		})
	}
}

func TestNewExecutor_UnknownListsSupported(t *testing.T) {
	_, err := executor.NewExecutor("ramping-arrival-rate")
	if err == nil || !strings.Contains(err.Error(), "constant-vus") {
		t.Errorf("NewExecutor(unknown) error = %v, want the supported types listed", err)
	}
}

func TestStart(t *testing.T) {
	exec, err := executor.Start(context.Background(), &executor.Config{
		Type:     executor.TypeConstantVUs,
		VUs:      100,
		Duration: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if exec.Type() != executor.TypeConstantVUs {
		t.Errorf("Type() = %v, want constant-vus", exec.Type())
	}

	_, err = executor.Start(context.Background(), &executor.Config{Type: executor.TypeConstantVUs})
	if err == nil || !strings.Contains(err.Error(), "failed to initialize executor") {
		t.Errorf("Start(invalid) error = %v", err)
	}

	if _, err := executor.Start(context.Background(), &executor.Config{Type: "unknown"}); err == nil {
		t.Error("Start(unknown) should fail")
	}
}

func TestFromScenario(t *testing.T) {
	sc := &config.ScenarioConfig{
		Executor:     "constant-vus",
		VUs:          100,
		Duration:     "30s",
		GracefulStop: "5s",
		Pacing: &config.PacingConfig{
			Type:     "constant",
			Duration: "100ms",
		},
	}

	exec, cfg, err := executor.FromScenario(context.Background(), "cep_lookup", sc)
	if err != nil {
		t.Fatalf("FromScenario() error = %v", err)
	}
	if exec.Type() != executor.TypeConstantVUs {
		t.Errorf("Type() = %v", exec.Type())
	}
	if cfg.Name != "cep_lookup" {
		t.Errorf("Name = %q, want cep_lookup", cfg.Name)
	}
	if cfg.VUs != 100 {
		t.Errorf("VUs = %d, want 100", cfg.VUs)
	}
	if cfg.Duration != 30*time.Second {
		t.Errorf("Duration = %v, want 30s", cfg.Duration)
	}
	if cfg.GracefulStop != 5*time.Second {
		t.Errorf("GracefulStop = %v, want 5s", cfg.GracefulStop)
	}
	if cfg.Pacing == nil || cfg.Pacing.Type != executor.PacingConstant || cfg.Pacing.Duration != 100*time.Millisecond {
		t.Errorf("Pacing = %+v, want constant 100ms", cfg.Pacing)
	}
}

func TestConfigFromScenario_IntegerSeconds(t *testing.T) {
	cfg, err := executor.ConfigFromScenario("s", &config.ScenarioConfig{
		Executor:   "per-vu-iterations",
		VUs:        2,
		Iterations: 10,
		Duration:   "60",
		Pacing:     &config.PacingConfig{Type: "random", Min: "50ms", Max: "1"},
	})
	if err != nil {
		t.Fatalf("ConfigFromScenario() error = %v", err)
	}
	if cfg.Iterations != 10 {
		t.Errorf("Iterations = %d, want 10", cfg.Iterations)
	}
	if cfg.Duration != time.Minute {
		t.Errorf("Duration = %v, want 1m", cfg.Duration)
	}
	if cfg.Pacing.Min != 50*time.Millisecond || cfg.Pacing.Max != time.Second {
		t.Errorf("Pacing = %+v, want 50ms..1s", cfg.Pacing)
	}
}

func TestConfigFromScenario_InvalidDurations(t *testing.T) {
	tests := []struct {
		name string
		sc   *config.ScenarioConfig
		want string
	}{
		{"duration", &config.ScenarioConfig{Executor: "constant-vus", Duration: "soon"}, "invalid duration"},
		{"gracefulStop", &config.ScenarioConfig{Executor: "constant-vus", GracefulStop: "x"}, "invalid gracefulStop"},
		{"pacing", &config.ScenarioConfig{Executor: "constant-vus", Pacing: &config.PacingConfig{Type: "constant", Duration: "x"}}, "invalid pacing duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executor.ConfigFromScenario("s", tt.sc)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ConfigFromScenario() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestConfigFromScenario_EmptyPacingTypeIsNone(t *testing.T) {
	cfg, err := executor.ConfigFromScenario("s", &config.ScenarioConfig{
		Executor: "constant-vus",
		VUs:      1,
		Duration: "1s",
		Pacing:   &config.PacingConfig{},
	})
	if err != nil {
		t.Fatalf("ConfigFromScenario() error = %v", err)
	}
	if cfg.Pacing.Type != executor.PacingNone {
		t.Errorf("Pacing.Type = %q, want none", cfg.Pacing.Type)
	}
}

func TestTypes(t *testing.T) {
	for _, typ := range executor.Types() {
		exec, err := executor.NewExecutor(typ)
		if err != nil {
			t.Fatalf("NewExecutor(%q) error = %v", typ, err)
		}
		if exec.Type() != typ {
			t.Errorf("NewExecutor(%q).Type() = %v", typ, exec.Type())
		}
	}
}

func TestConfig_TotalDuration(t *testing.T) {
	cfg := &executor.Config{Type: executor.TypeConstantVUs, VUs: 100, Duration: 30 * time.Second}
	if got := cfg.TotalDuration(); got != 30*time.Second {
		t.Errorf("TotalDuration() = %v, want 30s", got)
	}

	perVU := &executor.Config{Type: executor.TypePerVUIterations, VUs: 1, Iterations: 5, Duration: time.Minute}
	if got := perVU.TotalDuration(); got != 0 {
		t.Errorf("per-vu-iterations TotalDuration() = %v, want 0", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *executor.Config
		wantErr bool
	}{
		{"constant-vus valid", &executor.Config{Type: executor.TypeConstantVUs, VUs: 10, Duration: time.Minute}, false},
		{"constant-vus missing vus", &executor.Config{Type: executor.TypeConstantVUs, Duration: time.Minute}, true},
		{"constant-vus missing duration", &executor.Config{Type: executor.TypeConstantVUs, VUs: 10}, true},
		{"per-vu valid", &executor.Config{Type: executor.TypePerVUIterations, VUs: 1, Iterations: 1}, false},
		{"per-vu missing iterations", &executor.Config{Type: executor.TypePerVUIterations, VUs: 1}, true},
		{"per-vu negative duration", &executor.Config{Type: executor.TypePerVUIterations, VUs: 1, Iterations: 1, Duration: -time.Second}, true},
		{"empty type", &executor.Config{}, true},
		{"unknown type", &executor.Config{Type: "unknown"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateReportsField(t *testing.T) {
	err := (&executor.Config{Type: executor.TypeConstantVUs, Duration: time.Second}).Validate()

	var verr *config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %T, want *config.ValidationError", err)
	}
	if verr.Field != "vus" {
		t.Errorf("Field = %q, want vus", verr.Field)
	}
	if err.Error() != "validation error on field 'vus': vus must be > 0" {
		t.Errorf("Error() = %q", err.Error())
	}
}
