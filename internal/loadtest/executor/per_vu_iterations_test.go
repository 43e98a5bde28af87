package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/brasilcep/cepbench/internal/loadtest/executor"
	"github.com/brasilcep/cepbench/internal/loadtest/metrics"
)

func TestNewPerVUIterations(t *testing.T) {
	e := executor.NewPerVUIterations()
	if e.Type() != executor.TypePerVUIterations {
		t.Errorf("Type() = %v, want %v", e.Type(), executor.TypePerVUIterations)
	}
}

func TestPerVUIterations_Init_InvalidType(t *testing.T) {
	e := executor.NewPerVUIterations()
	err := e.Init(context.Background(), &executor.Config{
		Type:     executor.TypeConstantVUs,
		VUs:      1,
		Duration: time.Second,
	})
	if err == nil {
		t.Error("Init() with constant-vus config should fail")
	}
}

func TestPerVUIterations_Run_ExactCount(t *testing.T) {
	metricsEngine, scheduler := newHarness(t, 0)

	e := executor.NewPerVUIterations()
	config := &executor.Config{
		Type:       executor.TypePerVUIterations,
		VUs:        4,
		Iterations: 5,
	}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if err := e.Run(context.Background(), scheduler, metricsEngine); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	stats := e.GetStats()
	if stats.Iterations != 20 {
		t.Errorf("Iterations = %d, want 20", stats.Iterations)
	}
	if stats.TotalIterations != 20 {
		t.Errorf("TotalIterations = %d, want 20", stats.TotalIterations)
	}

	snap := metricsEngine.GetSnapshot()
	if snap.TotalRequests != 20 {
		t.Errorf("TotalRequests = %d, want 20", snap.TotalRequests)
	}
	if snap.Iterations != 20 {
		t.Errorf("snapshot Iterations = %d, want 20", snap.Iterations)
	}
	if e.GetProgress() != 1.0 {
		t.Errorf("GetProgress() = %v, want 1.0", e.GetProgress())
	}
	if metricsEngine.GetPhase() != metrics.PhaseGracefulStop {
		t.Errorf("phase = %v, want %v", metricsEngine.GetPhase(), metrics.PhaseGracefulStop)
	}
}

func TestPerVUIterations_Run_PacingBetweenIterations(t *testing.T) {
	metricsEngine, scheduler := newHarness(t, 0)

	e := executor.NewPerVUIterations()
	config := &executor.Config{
		Type:       executor.TypePerVUIterations,
		VUs:        2,
		Iterations: 3,
		Pacing:     &executor.PacingConfig{Type: executor.PacingConstant, Duration: 100 * time.Millisecond},
	}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	start := time.Now()
	if err := e.Run(context.Background(), scheduler, metricsEngine); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// The pause follows every iteration, the last one included
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("Run() elapsed = %v, want >= 300ms", elapsed)
	}
}

func TestPerVUIterations_Run_MaxDuration(t *testing.T) {
	metricsEngine, scheduler := newHarness(t, 0)

	e := executor.NewPerVUIterations()
	config := &executor.Config{
		Type:       executor.TypePerVUIterations,
		VUs:        1,
		Iterations: 1000,
		Duration:   200 * time.Millisecond,
		Pacing:     &executor.PacingConfig{Type: executor.PacingConstant, Duration: 50 * time.Millisecond},
	}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	start := time.Now()
	if err := e.Run(context.Background(), scheduler, metricsEngine); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run() elapsed = %v, want ~200ms", elapsed)
	}
	if got := e.GetStats().Iterations; got >= 1000 || got < 1 {
		t.Errorf("Iterations = %d, want a partial count", got)
	}
}

func TestPerVUIterations_GetProgress_BeforeRun(t *testing.T) {
	e := executor.NewPerVUIterations()
	_ = e.Init(context.Background(), &executor.Config{
		Type:       executor.TypePerVUIterations,
		VUs:        1,
		Iterations: 1,
	})
	if e.GetProgress() != 0.0 {
		t.Errorf("GetProgress() = %v, want 0.0", e.GetProgress())
	}
	if e.GetActiveVUs() != 0 {
		t.Errorf("GetActiveVUs() = %d, want 0", e.GetActiveVUs())
	}
}
