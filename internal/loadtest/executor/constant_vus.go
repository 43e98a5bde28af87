package executor

import (
	"context"
	"time"

	"github.com/brasilcep/cepbench/internal/loadtest"
	"github.com/brasilcep/cepbench/internal/loadtest/metrics"
)

// ConstantVUs keeps VUs looping, each pausing after every iteration, until
// Duration elapses. Iterations still in flight then get the graceful stop
// period before their requests are cancelled.
type ConstantVUs struct {
	run
}

func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{run{kind: TypeConstantVUs}}
}

// Run blocks until every VU has exited.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler, m *metrics.Engine) error {
	pool, err := e.begin(m)
	if err != nil {
		return err
	}
	pool.start(ctx, scheduler, e.config.VUs, 0, e.config.Pacing)

	window := time.NewTimer(e.config.Duration)
	defer window.Stop()

	select {
	case <-window.C:
	case <-pool.done:
	case <-ctx.Done():
	}

	m.CloseWindow()
	pool.drain(e.config.gracefulStop())
	e.finish()

	return ctx.Err()
}

// GetProgress is the share of Duration elapsed.
func (e *ConstantVUs) GetProgress() float64 {
	started, finished := e.state()
	switch {
	case !started:
		return 0
	case finished:
		return 1
	}
	return min(float64(e.stats().Elapsed)/float64(e.config.Duration), 1)
}

func (e *ConstantVUs) GetStats() *Stats {
	s := e.stats()
	if e.config != nil {
		s.TotalDuration = e.config.Duration
	}
	return s
}

var _ Executor = (*ConstantVUs)(nil)
