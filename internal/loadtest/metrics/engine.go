// Package metrics collects request latencies, request outcomes and check
// results for a load test run.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// histogram is an HDR histogram behind a mutex; RecordValue is not safe
// for concurrent use.
type histogram struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
	lo   int64
	hi   int64
}

func newHistogram(opts Options) *histogram {
	return &histogram{
		hist: hdrhistogram.New(opts.LowestLatency, opts.HighestLatency, opts.SigFigs),
		lo:   opts.LowestLatency,
		hi:   opts.HighestLatency,
	}
}

// record clamps d into the trackable range so outliers still count.
func (h *histogram) record(d time.Duration) {
	us := min(max(d.Microseconds(), h.lo), h.hi)

	h.mu.Lock()
	_ = h.hist.RecordValue(us)
	h.mu.Unlock()
}

func (h *histogram) stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.hist.TotalCount() == 0 {
		return LatencyStats{}
	}
	at := func(q float64) time.Duration { return micros(h.hist.ValueAtQuantile(q)) }
	return LatencyStats{
		Min:    micros(h.hist.Min()),
		Max:    micros(h.hist.Max()),
		Mean:   time.Duration(h.hist.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.hist.StdDev() * float64(time.Microsecond)),
		P50:    at(50),
		P90:    at(90),
		P95:    at(95),
		P99:    at(99),
		Count:  h.hist.TotalCount(),
	}
}

func (h *histogram) reset() {
	h.mu.Lock()
	h.hist.Reset()
	h.mu.Unlock()
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

// Engine aggregates what the VUs of one run report: latencies per request
// name and overall, request outcomes, iterations and named checks. A
// background emitter seals a time bucket every BucketInterval until Stop.
//
// Engine is safe for concurrent use.
type Engine struct {
	opts Options

	latency *histogram

	byRequestMu sync.RWMutex
	byRequest   map[string]*histogram

	requests   atomic.Int64
	failed     atomic.Int64
	bytes      atomic.Int64
	iterations atomic.Int64
	activeVUs  atomic.Int32

	checkPasses atomic.Int64
	checkFails  atomic.Int64
	checksMu    sync.Mutex
	checks      []*CheckStats
	checkIndex  map[string]int

	series *Series

	phaseMu sync.RWMutex
	phase   Phase
	phases  []PhaseChange
	windows int

	startMu sync.RWMutex
	start   time.Time

	stopEmitter context.CancelFunc
	emitterDone chan struct{}
	stopOnce    sync.Once
}

// NewEngine creates an engine with DefaultOptions.
func NewEngine() *Engine {
	return NewEngineWithOptions(DefaultOptions())
}

// NewEngineWithOptions creates an engine; zero option fields take their
// default.
func NewEngineWithOptions(opts Options) *Engine {
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:        opts,
		latency:     newHistogram(opts),
		byRequest:   make(map[string]*histogram),
		checkIndex:  make(map[string]int),
		series:      NewSeries(opts.MaxBuckets, opts.BucketInterval),
		phase:       PhaseInit,
		start:       time.Now(),
		stopEmitter: cancel,
		emitterDone: make(chan struct{}),
	}

	go e.emit(ctx)
	return e
}

// RecordLatency records one completed request. requestName may be empty,
// in which case only the overall histogram is fed.
func (e *Engine) RecordLatency(d time.Duration, requestName string, success bool, bytes int64) {
	e.latency.record(d)
	if requestName != "" {
		e.requestHistogram(requestName).record(d)
	}

	e.requests.Add(1)
	e.bytes.Add(bytes)
	if !success {
		e.failed.Add(1)
	}
	e.series.AddRequest(success)
}

func (e *Engine) requestHistogram(name string) *histogram {
	e.byRequestMu.RLock()
	h, ok := e.byRequest[name]
	e.byRequestMu.RUnlock()
	if ok {
		return h
	}

	e.byRequestMu.Lock()
	defer e.byRequestMu.Unlock()
	if h, ok = e.byRequest[name]; !ok {
		h = newHistogram(e.opts)
		e.byRequest[name] = h
	}
	return h
}

// RecordCheck records the outcome of a named check.
func (e *Engine) RecordCheck(name string, passed bool) {
	if passed {
		e.checkPasses.Add(1)
	} else {
		e.checkFails.Add(1)
	}
	e.series.AddCheck(passed)

	e.checksMu.Lock()
	defer e.checksMu.Unlock()

	i, ok := e.checkIndex[name]
	if !ok {
		i = len(e.checks)
		e.checkIndex[name] = i
		e.checks = append(e.checks, &CheckStats{Name: name})
	}
	if passed {
		e.checks[i].Passes++
	} else {
		e.checks[i].Fails++
	}
}

// RecordIteration counts one completed iteration.
func (e *Engine) RecordIteration() {
	e.iterations.Add(1)
}

// GetCheckTotals returns the tally over every recorded check.
func (e *Engine) GetCheckTotals() CheckTotals {
	return CheckTotals{Passes: e.checkPasses.Load(), Fails: e.checkFails.Load()}
}

// GetCheckStats returns per-check tallies in first-seen order.
func (e *Engine) GetCheckStats() []CheckStats {
	e.checksMu.Lock()
	defer e.checksMu.Unlock()

	out := make([]CheckStats, len(e.checks))
	for i, c := range e.checks {
		out[i] = *c
	}
	return out
}

// SetPhase moves the run to phase; repeating the current phase is a no-op.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()
	e.setPhaseLocked(phase)
}

// OpenWindow marks one more scenario as starting iterations. The run is
// steady while at least one window is open.
func (e *Engine) OpenWindow() {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	e.windows++
	e.setPhaseLocked(PhaseSteady)
}

// CloseWindow undoes OpenWindow. Closing the last open window moves the run
// to graceful stop.
func (e *Engine) CloseWindow() {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.windows == 0 {
		return
	}
	e.windows--
	if e.windows == 0 {
		e.setPhaseLocked(PhaseGracefulStop)
	}
}

func (e *Engine) setPhaseLocked(phase Phase) {
	if e.phase == phase {
		return
	}
	e.phase = phase
	e.phases = append(e.phases, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.requests.Load(),
	})
}

// GetPhase returns the current phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.phase
}

// GetPhaseHistory returns every phase transition in order.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return append([]PhaseChange(nil), e.phases...)
}

// SetActiveVUs updates the active VU gauge.
func (e *Engine) SetActiveVUs(n int) {
	e.activeVUs.Store(int32(n))
}

// AddActiveVUs adjusts the gauge by delta and returns the new value.
// Concurrent scenarios add to the same gauge.
func (e *Engine) AddActiveVUs(delta int) int {
	return int(e.activeVUs.Add(int32(delta)))
}

// GetActiveVUs returns the active VU gauge.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// Latency returns the overall latency statistics.
func (e *Engine) Latency() LatencyStats {
	return e.latency.stats()
}

// GetRequestStats returns latency statistics per request name.
func (e *Engine) GetRequestStats() map[string]LatencyStats {
	e.byRequestMu.RLock()
	defer e.byRequestMu.RUnlock()

	out := make(map[string]LatencyStats, len(e.byRequest))
	for name, h := range e.byRequest {
		out[name] = h.stats()
	}
	return out
}

func (e *Engine) startTime() time.Time {
	e.startMu.RLock()
	defer e.startMu.RUnlock()
	return e.start
}

func (e *Engine) counters() Counters {
	return Counters{
		Requests: e.requests.Load(),
		Failed:   e.failed.Load(),
		Bytes:    e.bytes.Load(),
	}
}

// GetSnapshot returns a point-in-time view of the run.
func (e *Engine) GetSnapshot() *Snapshot {
	start := e.startTime()
	now := time.Now()
	elapsed := now.Sub(start)
	c := e.counters()

	snap := &Snapshot{
		TotalRequests:   c.Requests,
		SuccessRequests: c.Requests - c.Failed,
		FailedRequests:  c.Failed,
		TotalBytes:      c.Bytes,
		Iterations:      e.iterations.Load(),
		Latency:         e.latency.stats(),
		Checks:          e.GetCheckTotals(),
		ActiveVUs:       e.GetActiveVUs(),
		CurrentPhase:    e.GetPhase(),
		Elapsed:         elapsed,
		StartTime:       start,
		Timestamp:       now,
	}

	if c.Requests > 0 {
		snap.ErrorRate = float64(c.Failed) / float64(c.Requests)
	}

	steady, n := e.series.SteadyRPS()
	snap.SteadyStateRPS = steady
	switch {
	case n > 0:
		snap.RPS = steady
	case elapsed > 0:
		snap.RPS = float64(c.Requests) / elapsed.Seconds()
	}
	return snap
}

// GetCurrentRPS returns the rate of the latest bucket, or the overall rate
// before the first bucket is sealed.
func (e *Engine) GetCurrentRPS() float64 {
	if b := e.series.Latest(); b != nil {
		return b.RPS
	}
	elapsed := time.Since(e.startTime()).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(e.requests.Load()) / elapsed
}

// GetTimeSeries returns the sealed buckets, oldest first.
func (e *Engine) GetTimeSeries() []*TimeBucket {
	return e.series.Buckets()
}

func (e *Engine) emit(ctx context.Context) {
	defer close(e.emitterDone)

	ticker := time.NewTicker(e.opts.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sealBucket()
		}
	}
}

func (e *Engine) sealBucket() {
	e.series.Close(e.counters(), e.latency.stats(), e.GetActiveVUs(), e.GetPhase())
}

// Stop halts the emitter and seals a last bucket. Later calls do nothing.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.stopEmitter()
		<-e.emitterDone
		e.sealBucket()
	})
}

// Reset clears every metric and restarts the clock. The emitter keeps
// running.
func (e *Engine) Reset() {
	e.latency.reset()

	e.byRequestMu.Lock()
	e.byRequest = make(map[string]*histogram)
	e.byRequestMu.Unlock()

	e.checksMu.Lock()
	e.checks = nil
	e.checkIndex = make(map[string]int)
	e.checksMu.Unlock()

	for _, c := range []*atomic.Int64{&e.requests, &e.failed, &e.bytes, &e.iterations, &e.checkPasses, &e.checkFails} {
		c.Store(0)
	}
	e.activeVUs.Store(0)

	e.phaseMu.Lock()
	e.phase = PhaseInit
	e.phases = nil
	e.windows = 0
	e.phaseMu.Unlock()

	e.series.Reset()

	e.startMu.Lock()
	e.start = time.Now()
	e.startMu.Unlock()
}
