// Package loadtest provides virtual users and their scheduler: the runtime
// that executes a scenario's requests concurrently and feeds the metrics
// engine.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"regexp"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/brasilcep/cepbench/internal/loadtest/metrics"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

// A VU moves idle <-> running per iteration, then to stopping once asked
// to stop and to stopped when its loop returns.
const (
	VUStateIdle VUState = iota
	VUStateRunning
	VUStateStopping
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is one simulated client looping over the scenario. It owns
// its random source, so the variant it requests is drawn independently of
// every other VU.
//
// A VU runs on a single goroutine; only GetState, RequestStop,
// StopRequested and MarkStopped may be called from others.
type VirtualUser struct {
	ID         int
	Scenario   *Scenario
	HTTPClient *http.Client
	Metrics    *metrics.Engine

	logger *zap.Logger
	rng    *rand.Rand

	state     atomic.Int32
	stopCh    chan struct{}
	iteration atomic.Int64

	// picks of the iteration in progress
	vars map[string]string
}

// VUOption configures a VirtualUser.
type VUOption func(*VirtualUser)

// WithVULogger sets the logger used for request failures (debug level).
func WithVULogger(logger *zap.Logger) VUOption {
	return func(vu *VirtualUser) {
		if logger != nil {
			vu.logger = logger
		}
	}
}

// WithRandSource sets the VU's random source.
func WithRandSource(src rand.Source) VUOption {
	return func(vu *VirtualUser) {
		if src != nil {
			vu.rng = rand.New(src)
		}
	}
}

// NewVirtualUser creates a VU. Without WithRandSource it seeds its source
// from the clock and its ID.
func NewVirtualUser(id int, scenario *Scenario, httpClient *http.Client, metricsEngine *metrics.Engine, opts ...VUOption) *VirtualUser {
	vu := &VirtualUser{
		ID:         id,
		Scenario:   scenario,
		HTTPClient: httpClient,
		Metrics:    metricsEngine,
		logger:     zap.NewNop(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(vu)
	}
	return vu
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// Rand returns the VU's random source. Not safe for use outside the VU's goroutine.
func (vu *VirtualUser) Rand() *rand.Rand {
	return vu.rng
}

// Var returns a variable of the current (or last) iteration.
func (vu *VirtualUser) Var(name string) (string, bool) {
	v, ok := vu.vars[name]
	return v, ok
}

// RunIteration picks one value from every dataset and sends the scenario's
// requests in order. Failed requests and checks are recorded, never
// returned. It returns ctx.Err() when cancelled mid-iteration, leaving the
// interrupted request unrecorded, and an error when the VU is stopping.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	currentState := vu.GetState()
	if currentState == VUStateStopping || currentState == VUStateStopped {
		return fmt.Errorf("VU %d is stopping or stopped", vu.ID)
	}

	vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))
	vu.iteration.Add(1)
	vu.vars = vu.pickDatasets()

	if vu.Scenario != nil {
		for i, req := range vu.Scenario.Requests {
			if err := ctx.Err(); err != nil {
				vu.endIteration()
				return err
			}

			result := vu.executeRequest(ctx, req)
			if ctx.Err() != nil {
				vu.endIteration()
				return ctx.Err()
			}

			vu.record(req, result)

			if req.ThinkTime > 0 && i < len(vu.Scenario.Requests)-1 {
				if err := sleepCtx(ctx, req.ThinkTime); err != nil {
					vu.endIteration()
					return err
				}
			}
		}
	}

	vu.endIteration()
	if vu.Metrics != nil {
		vu.Metrics.RecordIteration()
	}
	return nil
}

func (vu *VirtualUser) endIteration() {
	vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
}

// record feeds a request result and its checks to the metrics engine.
// Success means no transport error and a status below 400.
func (vu *VirtualUser) record(req *RequestConfig, result *RequestResult) {
	success := result.Error == nil && result.StatusCode < 400

	if result.Error != nil {
		vu.logger.Debug("request failed",
			zap.Int("vu", vu.ID),
			zap.String("request", req.Name),
			zap.String("url", result.URL),
			zap.Error(result.Error),
		)
	}

	if vu.Metrics == nil {
		return
	}

	vu.Metrics.RecordLatency(result.Duration, req.Name, success, result.BytesReceived)
	for _, check := range req.Checks {
		vu.Metrics.RecordCheck(check.Name, check.Evaluate(result.StatusCode))
	}
}

// executeRequest executes a single HTTP request and returns the result.
// Transport errors leave StatusCode at 0.
func (vu *VirtualUser) executeRequest(ctx context.Context, req *RequestConfig) *RequestResult {
	result := &RequestResult{
		VUID:        vu.ID,
		Iteration:   vu.iteration.Load(),
		RequestName: req.Name,
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := vu.buildRequest(ctx, req)
	if err != nil {
		result.StartTime = time.Now()
		result.EndTime = result.StartTime
		result.Error = fmt.Errorf("failed to build request: %w", err)
		return result
	}
	result.URL = httpReq.URL.String()

	result.StartTime = time.Now()
	resp, err := vu.HTTPClient.Do(httpReq)
	if err != nil {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		result.Error = err
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode

	// The body is drained for byte counting and connection reuse, never inspected.
	n, err := io.Copy(io.Discard, resp.Body)
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.BytesReceived = n
	if err != nil && !errors.Is(err, context.Canceled) {
		result.Error = fmt.Errorf("failed to read response body: %w", err)
	}

	return result
}

// buildRequest builds an HTTP request from the configuration.
func (vu *VirtualUser) buildRequest(ctx context.Context, req *RequestConfig) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, vu.resolveVariables(req.URL), nil)
	if err != nil {
		return nil, err
	}

	if vu.Scenario.UserAgent != "" {
		httpReq.Header.Set("User-Agent", vu.Scenario.UserAgent)
	}
	for key, value := range vu.Scenario.Headers {
		httpReq.Header.Set(key, vu.resolveVariables(value))
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, vu.resolveVariables(value))
	}

	return httpReq, nil
}

var varRegex = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// resolveVariables replaces {{name}} placeholders. Iteration picks take
// precedence over scenario variables; unknown placeholders are left as-is.
func (vu *VirtualUser) resolveVariables(input string) string {
	return varRegex.ReplaceAllStringFunc(input, func(match string) string {
		name := varRegex.FindStringSubmatch(match)[1]
		if v, ok := vu.vars[name]; ok {
			return v
		}
		if vu.Scenario != nil {
			if v, ok := vu.Scenario.Variables[name]; ok {
				return v
			}
		}
		return match
	})
}

// pickDatasets picks one value per dataset, uniformly and independently.
// Datasets are visited in name order so a seeded source is reproducible.
func (vu *VirtualUser) pickDatasets() map[string]string {
	if vu.Scenario == nil || len(vu.Scenario.Datasets) == 0 {
		return nil
	}

	names := make([]string, 0, len(vu.Scenario.Datasets))
	for name := range vu.Scenario.Datasets {
		names = append(names, name)
	}
	sort.Strings(names)

	vars := make(map[string]string, len(names))
	for _, name := range names {
		values := vu.Scenario.Datasets[name]
		if len(values) == 0 {
			continue
		}
		vars[name] = values[vu.rng.Intn(len(values))]
	}
	return vars
}

// RequestStop signals the VU to stop before its next iteration.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// StopRequested returns a channel closed once RequestStop was called.
func (vu *VirtualUser) StopRequested() <-chan struct{} {
	return vu.stopCh
}

// MarkStopped is called by the scheduler when the VU's loop returns.
func (vu *VirtualUser) MarkStopped() {
	vu.state.Store(int32(VUStateStopped))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RequestResult is the outcome of one request. Transport errors leave
// StatusCode at 0.
type RequestResult struct {
	VUID          int           `json:"vuId"`
	Iteration     int64         `json:"iteration"`
	RequestName   string        `json:"requestName"`
	URL           string        `json:"url"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       time.Time     `json:"endTime"`
	Duration      time.Duration `json:"duration"`
	StatusCode    int           `json:"statusCode"`
	BytesReceived int64         `json:"bytesReceived"`
	Error         error         `json:"-"`
}

// Scenario is what a VU runs each iteration. Variables and one pick per
// dataset are substituted for {{name}} in URLs and headers; a pick shadows
// a variable of the same name.
type Scenario struct {
	Name      string
	Variables map[string]string
	Datasets  map[string][]string
	Headers   map[string]string
	UserAgent string
	Requests  []*RequestConfig
}

// RequestConfig is one request of a scenario. ThinkTime is waited after
// the request unless it is the last one.
type RequestConfig struct {
	Name      string
	Method    string
	URL       string
	Headers   map[string]string
	Timeout   time.Duration
	ThinkTime time.Duration
	Checks    []Check
}
