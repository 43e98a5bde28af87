package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brasilcep/cepbench/internal/loadtest/metrics"
)

// run is the state both VU executors share: the config, the current pool
// and the run window.
type run struct {
	kind   Type
	config *Config

	mu      sync.RWMutex
	pool    *vuPool
	started time.Time
	ended   time.Time

	// stopped is set by a Stop that arrived before Run.
	stopped bool
}

func (r *run) Type() Type {
	return r.kind
}

// Init validates cfg for this executor's type.
func (r *run) Init(_ context.Context, cfg *Config) error {
	if cfg.Type != r.kind {
		return fmt.Errorf("invalid config type: expected %s, got %s", r.kind, cfg.Type)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.config = cfg
	return nil
}

// begin starts a fresh pool and opens this scenario's window on m. A pool
// begun after Stop starts no iterations.
func (r *run) begin(m *metrics.Engine) (*vuPool, error) {
	if r.config == nil {
		return nil, fmt.Errorf("executor not initialized")
	}
	pool := newVUPool(m)

	r.mu.Lock()
	r.pool = pool
	r.started = time.Now()
	r.ended = time.Time{}
	if r.stopped {
		pool.signalStop()
	}
	r.mu.Unlock()

	m.OpenWindow()
	return pool, nil
}

// finish records the end of the run. The engine owns the done phase since
// other scenarios may still be running.
func (r *run) finish() {
	r.mu.Lock()
	r.ended = time.Now()
	r.mu.Unlock()
}

// state reports whether Run was entered and whether it returned.
func (r *run) state() (started, finished bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.started.IsZero(), !r.ended.IsZero()
}

func (r *run) GetActiveVUs() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.pool == nil {
		return 0
	}
	return int(r.pool.activeVUs.Load())
}

func (r *run) stats() *Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	s := &Stats{StartTime: r.started, CurrentTime: now}
	if r.config != nil {
		s.TargetVUs = r.config.VUs
	}
	if !r.started.IsZero() {
		end := r.ended
		if end.IsZero() {
			end = now
		}
		s.Elapsed = end.Sub(r.started)
	}
	if p := r.pool; p != nil {
		s.ActiveVUs = int(p.activeVUs.Load())
		s.Iterations = p.iterations.Load()
		s.InterruptedVUs = int(p.interrupted.Load())
	}
	return s
}

// Stop ends the run early: no new iterations start and in-flight ones get
// the graceful stop period, or until ctx is done, to finish.
func (r *run) Stop(ctx context.Context) error {
	r.mu.Lock()
	pool := r.pool
	if pool == nil {
		r.stopped = true
	}
	r.mu.Unlock()
	if pool == nil {
		return nil
	}

	pool.signalStop()

	grace := DefaultGracefulStop
	if r.config != nil {
		grace = r.config.gracefulStop()
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-pool.done:
		return nil
	case <-t.C:
		return fmt.Errorf("graceful stop timeout after %v", grace)
	case <-ctx.Done():
		return ctx.Err()
	}
}
