package executor

import (
	"context"
	"time"

	"github.com/brasilcep/cepbench/internal/loadtest"
	"github.com/brasilcep/cepbench/internal/loadtest/metrics"
)

// PerVUIterations has every VU run Iterations iterations and exit.
// Duration, or DefaultMaxDuration when unset, caps the run; hitting the cap
// stops the VUs the way ConstantVUs does at the end of its window.
type PerVUIterations struct {
	run
}

func NewPerVUIterations() *PerVUIterations {
	return &PerVUIterations{run{kind: TypePerVUIterations}}
}

func (e *PerVUIterations) maxDuration() time.Duration {
	if e.config.Duration > 0 {
		return e.config.Duration
	}
	return DefaultMaxDuration
}

// Run blocks until every VU spent its iterations or the cap stopped it.
func (e *PerVUIterations) Run(ctx context.Context, scheduler *loadtest.VUScheduler, m *metrics.Engine) error {
	pool, err := e.begin(m)
	if err != nil {
		return err
	}
	pool.start(ctx, scheduler, e.config.VUs, e.config.Iterations, e.config.Pacing)

	limit := time.NewTimer(e.maxDuration())
	defer limit.Stop()

	select {
	case <-pool.done:
	case <-limit.C:
	case <-ctx.Done():
	}

	m.CloseWindow()
	pool.drain(e.config.gracefulStop())
	e.finish()

	return ctx.Err()
}

func (e *PerVUIterations) planned() int64 {
	return int64(e.config.VUs) * e.config.Iterations
}

// GetProgress is completed iterations over planned iterations.
func (e *PerVUIterations) GetProgress() float64 {
	started, finished := e.state()
	switch {
	case !started:
		return 0
	case finished:
		return 1
	}
	return min(float64(e.stats().Iterations)/float64(e.planned()), 1)
}

func (e *PerVUIterations) GetStats() *Stats {
	s := e.stats()
	if e.config != nil {
		s.TotalIterations = e.planned()
	}
	return s
}

var _ Executor = (*PerVUIterations)(nil)
