// Package engine runs a load test configuration: one executor per
// scenario, all recording into a single metrics engine, with thresholds
// evaluated once over the finished run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brasilcep/cepbench/internal/loadtest"
	"github.com/brasilcep/cepbench/internal/loadtest/config"
	"github.com/brasilcep/cepbench/internal/loadtest/executor"
	"github.com/brasilcep/cepbench/internal/loadtest/metrics"
)

// ErrAlreadyRunning is returned by Run while a previous Run is in progress.
var ErrAlreadyRunning = errors.New("engine is already running")

// Engine runs one TestConfig. It may be run again once a run returns.
type Engine struct {
	config     *config.TestConfig
	thresholds []config.Threshold
	httpConfig loadtest.HTTPClientConfig
	logger     *zap.Logger
	seed       *int64

	// external is set when the caller owns the metrics engine
	external *metrics.Engine

	mu        sync.RWMutex
	metrics   *metrics.Engine
	runners   map[string]*scenarioRunner
	runID     string
	startTime time.Time
	running   bool
}

type scenarioRunner struct {
	name      string
	exec      executor.Executor
	scheduler *loadtest.VUScheduler
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger handed down to schedulers and VUs.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSeed makes dataset picks and random pacing reproducible.
func WithSeed(seed int64) Option {
	return func(e *Engine) {
		e.seed = &seed
	}
}

// WithMetricsEngine records into m instead of an engine created per run.
// The caller owns m and must stop it.
func WithMetricsEngine(m *metrics.Engine) Option {
	return func(e *Engine) {
		e.external = m
	}
}

// NewEngine applies defaults to cfg, then validates it and parses its
// thresholds, so omitted fields never fail validation.
func NewEngine(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("invalid configuration: config is nil")
	}

	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	thresholds, err := config.ParseThresholds(cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Engine{
		config:     cfg,
		thresholds: thresholds,
		httpConfig: httpConfigFromSettings(cfg.Settings),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func httpConfigFromSettings(s config.GlobalSettings) loadtest.HTTPClientConfig {
	hc := loadtest.DefaultHTTPClientConfig()
	hc.Timeout = s.Timeout.GetDuration(config.DefaultTimeout)
	hc.InsecureSkipVerify = s.InsecureSkipVerify
	if s.MaxIdleConnsPerHost > 0 {
		hc.MaxIdleConnsPerHost = s.MaxIdleConnsPerHost
	}
	if s.MaxConnectionsPerHost > 0 {
		hc.MaxConnsPerHost = s.MaxConnectionsPerHost
	}
	return hc
}

// Run executes every scenario, concurrently unless options.sequential is
// set, and evaluates thresholds over the result.
//
// Cancelling ctx aborts in-flight iterations; the result is still built
// from whatever was recorded and returned alongside the error.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	m, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer e.end()
	if m != e.external {
		defer m.Stop()
	}

	logger := e.logger.With(zap.String("run_id", e.runID))
	m.SetPhase(metrics.PhaseInit)

	if err := e.initScenarios(ctx, m, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize scenarios: %w", err)
	}
	logger.Info("test started", zap.String("name", e.config.Name), zap.Int("scenarios", len(e.runners)))

	var scenarios map[string]*ScenarioResult
	var runErr error
	if e.config.Options != nil && e.config.Options.Sequential {
		scenarios, runErr = e.runSequential(ctx, m)
	} else {
		scenarios, runErr = e.runConcurrent(ctx, m)
	}
	m.SetPhase(metrics.PhaseDone)

	snapshot := m.GetSnapshot()
	thresholds := e.evaluateThresholds(snapshot)
	passed := true
	for _, tr := range thresholds {
		if tr.Passed {
			continue
		}
		passed = false
		logger.Warn("threshold failed",
			zap.String("metric", tr.Metric),
			zap.String("expression", tr.Expression),
			zap.String("value", tr.Value),
		)
	}

	end := time.Now()
	result := &TestResult{
		RunID:        e.runID,
		Name:         e.config.Name,
		Description:  e.config.Description,
		StartTime:    e.startTime,
		EndTime:      end,
		Duration:     end.Sub(e.startTime),
		Scenarios:    scenarios,
		Metrics:      snapshot,
		TimeSeries:   m.GetTimeSeries(),
		RequestStats: requestStats(m),
		Checks:       m.GetCheckStats(),
		Passed:       passed,
		Thresholds:   thresholds,
		Error:        runErr,
	}

	logger.Info("test finished",
		zap.Bool("passed", passed),
		zap.Duration("duration", result.Duration),
		zap.Int64("requests", snapshot.TotalRequests),
		zap.Int64("iterations", snapshot.Iterations),
		zap.Float64("checks_rate", snapshot.Checks.Rate()),
	)
	return result, runErr
}

func (e *Engine) begin() (*metrics.Engine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil, ErrAlreadyRunning
	}
	e.running = true
	e.startTime = time.Now()
	e.runID = uuid.NewString()
	e.runners = make(map[string]*scenarioRunner)
	e.metrics = e.external
	if e.metrics == nil {
		e.metrics = metrics.NewEngine()
	}
	return e.metrics, nil
}

func (e *Engine) end() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

func (e *Engine) scenarioNames() []string {
	names := make([]string, 0, len(e.config.Scenarios))
	for name := range e.config.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) initScenarios(ctx context.Context, m *metrics.Engine, logger *zap.Logger) error {
	schedOpts := []loadtest.SchedulerOption{loadtest.WithLogger(logger)}
	if e.seed != nil {
		schedOpts = append(schedOpts, loadtest.WithSeed(*e.seed))
	}

	for _, name := range e.scenarioNames() {
		sc := e.config.Scenarios[name]

		exec, _, err := executor.FromScenario(ctx, name, sc)
		if err != nil {
			return fmt.Errorf("failed to create executor for scenario %s: %w", name, err)
		}

		r := &scenarioRunner{
			name:      name,
			exec:      exec,
			scheduler: loadtest.NewVUScheduler(e.buildScenario(name, sc), m, e.httpConfig, schedOpts...),
		}
		e.mu.Lock()
		e.runners[name] = r
		e.mu.Unlock()

		logger.Debug("scenario initialized",
			zap.String("scenario", name),
			zap.String("executor", sc.Executor),
			zap.Int("vus", sc.VUs),
			zap.String("duration", sc.Duration),
		)
	}
	return nil
}

// buildScenario turns a validated scenario config into what VUs run.
// Scenario tags shadow global variables; baseUrl shadows both.
func (e *Engine) buildScenario(name string, sc *config.ScenarioConfig) *loadtest.Scenario {
	builtins := map[string]string{}
	if base := e.config.Settings.BaseURL; base != "" {
		builtins["baseUrl"] = base
		builtins["baseURL"] = base
	}

	s := &loadtest.Scenario{
		Name:      name,
		Variables: config.MergeVariables(e.config.Variables, sc.Tags, builtins),
		Datasets:  sc.Datasets,
		Headers:   e.config.Settings.Headers,
		UserAgent: e.config.Settings.UserAgent,
	}

	for _, req := range sc.Requests {
		rc := &loadtest.RequestConfig{
			Name:    req.Name,
			Method:  req.Method,
			URL:     req.URL,
			Headers: req.Headers,
		}
		// both parsed during validation
		rc.Timeout, _ = config.ParseDurationString(req.Timeout)
		rc.ThinkTime, _ = config.ParseDurationString(req.ThinkTime)

		for _, c := range req.Checks {
			rc.Checks = append(rc.Checks, loadtest.Check{Name: c.Name, Condition: c.Condition, Value: c.Value})
		}
		s.Requests = append(s.Requests, rc)
	}
	return s
}

func (e *Engine) snapshotRunners() []*scenarioRunner {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*scenarioRunner, 0, len(e.runners))
	for _, name := range e.scenarioNames() {
		if r, ok := e.runners[name]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) runConcurrent(ctx context.Context, m *metrics.Engine) (map[string]*ScenarioResult, error) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		results  = make(map[string]*ScenarioResult)
		firstErr error
	)

	for _, r := range e.snapshotRunners() {
		wg.Add(1)
		go func(r *scenarioRunner) {
			defer wg.Done()
			res, err := e.runScenario(ctx, m, r)

			mu.Lock()
			defer mu.Unlock()
			results[r.name] = res
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("scenario %s failed: %w", r.name, err)
			}
		}(r)
	}
	wg.Wait()
	return results, firstErr
}

func (e *Engine) runSequential(ctx context.Context, m *metrics.Engine) (map[string]*ScenarioResult, error) {
	results := make(map[string]*ScenarioResult)
	for _, r := range e.snapshotRunners() {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := e.runScenario(ctx, m, r)
		results[r.name] = res
		if err != nil {
			return results, fmt.Errorf("scenario %s failed: %w", r.name, err)
		}
	}
	return results, nil
}

func (e *Engine) runScenario(ctx context.Context, m *metrics.Engine, r *scenarioRunner) (*ScenarioResult, error) {
	start := time.Now()
	err := r.exec.Run(ctx, r.scheduler, m)
	stats := r.exec.GetStats()

	res := &ScenarioResult{
		Name:           r.name,
		Executor:       string(r.exec.Type()),
		Duration:       time.Since(start),
		Iterations:     stats.Iterations,
		TargetVUs:      stats.TargetVUs,
		InterruptedVUs: stats.InterruptedVUs,
	}
	if err != nil {
		res.Error = err.Error()
	}
	if stats.InterruptedVUs > 0 {
		e.logger.Warn("iterations interrupted after graceful stop",
			zap.String("run_id", e.runID),
			zap.String("scenario", r.name),
			zap.Int("vus", stats.InterruptedVUs),
		)
	}

	// every VU loop has returned; release idle connections
	r.scheduler.Shutdown(5 * time.Second)
	return res, err
}

func requestStats(m *metrics.Engine) map[string]RequestStats {
	perRequest := m.GetRequestStats()
	if len(perRequest) == 0 {
		return nil
	}
	stats := make(map[string]RequestStats, len(perRequest))
	for name, lat := range perRequest {
		stats[name] = RequestStats{Name: name, Count: lat.Count, Latency: lat}
	}
	return stats
}

// GetMetrics returns a snapshot of the current or last run, or nil before
// the first run.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	e.mu.RLock()
	m := e.metrics
	e.mu.RUnlock()

	if m == nil {
		return nil
	}
	return m.GetSnapshot()
}

func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop ends the run early. No new iterations start; in-flight ones get
// each scenario's graceful stop period.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.IsRunning() {
		return nil
	}
	var errs []error
	for _, r := range e.snapshotRunners() {
		if err := r.exec.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scenario %s: %w", r.name, err))
		}
	}
	return errors.Join(errs...)
}

// GetProgress is the mean progress of all scenarios, in [0, 1].
func (e *Engine) GetProgress() float64 {
	runners := e.snapshotRunners()
	if len(runners) == 0 {
		return 0
	}
	var sum float64
	for _, r := range runners {
		sum += r.exec.GetProgress()
	}
	return sum / float64(len(runners))
}

// EstimatedDuration is the longest scenario duration, graceful stop
// excluded.
func (e *Engine) EstimatedDuration() time.Duration {
	var longest time.Duration
	for _, sc := range e.config.Scenarios {
		if d, err := config.ParseScenarioDuration(sc); err == nil && d > longest {
			longest = d
		}
	}
	return longest
}
