package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brasilcep/cepbench/internal/loadtest"
	"github.com/brasilcep/cepbench/internal/loadtest/metrics"
)

// vuPool runs a fixed set of VUs and implements the two-step stop shared by
// the VU-based executors: first no new iterations start, then, once the
// graceful stop period expires, in-flight iterations are cancelled.
type vuPool struct {
	metrics *metrics.Engine

	activeVUs   atomic.Int32
	iterations  atomic.Int64
	interrupted atomic.Int32

	wg       sync.WaitGroup
	done     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
}

func newVUPool(metricsEngine *metrics.Engine) *vuPool {
	return &vuPool{
		metrics: metricsEngine,
		done:    make(chan struct{}),
		stopCh:  make(chan struct{}),
	}
}

// start spawns n VUs looping with the given pause and per-VU iteration budget.
func (p *vuPool) start(ctx context.Context, scheduler *loadtest.VUScheduler, n int, iterations int64, pacing *PacingConfig) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	loop := loadtest.LoopConfig{
		Stop:        p.stopCh,
		Iterations:  iterations,
		Pause:       pacing.Wait,
		OnIteration: func() { p.iterations.Add(1) },
	}

	for i := 0; i < n; i++ {
		vu := scheduler.SpawnVU()
		p.wg.Add(1)
		go p.runVU(runCtx, scheduler, vu, loop)
	}

	go func() {
		p.wg.Wait()
		cancel()
		close(p.done)
	}()
}

func (p *vuPool) runVU(ctx context.Context, scheduler *loadtest.VUScheduler, vu *loadtest.VirtualUser, loop loadtest.LoopConfig) {
	defer p.wg.Done()

	p.activeVUs.Add(1)
	p.metrics.AddActiveVUs(1)
	defer func() {
		p.activeVUs.Add(-1)
		p.metrics.AddActiveVUs(-1)
	}()

	scheduler.RunVU(ctx, vu, loop)
}

// signalStop stops new iterations from starting.
func (p *vuPool) signalStop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

// drain stops new iterations and waits for the VUs, cancelling whatever is
// still in flight after grace. Reports whether the VUs finished in time.
func (p *vuPool) drain(grace time.Duration) bool {
	p.signalStop()

	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-p.done:
		return true
	case <-t.C:
		p.interrupted.Store(p.activeVUs.Load())
		if p.cancel != nil {
			p.cancel()
		}
		<-p.done
		return false
	}
}
