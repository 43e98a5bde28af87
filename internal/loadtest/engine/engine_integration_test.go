package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brasilcep/cepbench/internal/loadtest/config"
	"github.com/brasilcep/cepbench/internal/loadtest/metrics"
)

// recordingServer answers every request and remembers the requested paths.
type recordingServer struct {
	*httptest.Server

	mu      sync.Mutex
	paths   []string
	headers []http.Header
}

func newRecordingServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *recordingServer {
	t.Helper()

	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.paths = append(rs.paths, r.URL.Path)
		rs.headers = append(rs.headers, r.Header.Clone())
		rs.mu.Unlock()

		if handler != nil {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"cep":"01310100"}`))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) Paths() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.paths...)
}

func (rs *recordingServer) Headers() []http.Header {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]http.Header(nil), rs.headers...)
}

// cepConfig mirrors the built-in CEP scenario with a short duration.
func cepConfig(baseURL string, vus int, duration string) *config.TestConfig {
	return &config.TestConfig{
		Name: "cep lookup",
		Settings: config.GlobalSettings{
			BaseURL: baseURL,
		},
		Scenarios: map[string]*config.ScenarioConfig{
			"cep_lookup": {
				Executor: config.ExecutorConstantVUs,
				VUs:      vus,
				Duration: duration,
				Pacing:   &config.PacingConfig{Type: "constant", Duration: "100ms"},
				Datasets: map[string][]string{"cep": {"01310100", "01310-100"}},
				Requests: []config.RequestConfig{
					{
						Name:   "get_cep",
						URL:    "{{baseUrl}}/cep/{{cep}}",
						Checks: []config.CheckConfig{{Value: 200}},
					},
				},
			},
		},
		Thresholds: &config.ThresholdsConfig{
			HTTPReqDuration: []string{"p90 < 200ms"},
		},
	}
}

func TestEngineIntegration_ConstantVUs(t *testing.T) {
	server := newRecordingServer(t, nil)

	engine, err := NewEngine(cepConfig(server.URL, 4, "1s"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := engine.Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)

	_, err = uuid.Parse(result.RunID)
	assert.NoError(t, err, "run ID should be a UUID")
	assert.Equal(t, "cep lookup", result.Name)
	assert.True(t, result.Duration >= time.Second)
	assert.True(t, result.Metrics.TotalRequests > 0, "should have made some requests")
	assert.True(t, result.Metrics.Latency.P90 > 0, "should have latency data")
	assert.Equal(t, int64(0), result.Metrics.FailedRequests)
	assert.True(t, result.Passed)

	require.Len(t, result.Checks, 1)
	assert.Equal(t, "status 200", result.Checks[0].Name)
	assert.Equal(t, int64(0), result.Checks[0].Fails)
	assert.Equal(t, 1.0, result.Metrics.Checks.Rate())

	require.Len(t, result.Thresholds, 1)
	assert.Equal(t, "p90 < 200ms", result.Thresholds[0].Expression)
	assert.True(t, result.Thresholds[0].Passed)

	scenario := result.Scenarios["cep_lookup"]
	require.NotNil(t, scenario)
	assert.Equal(t, "constant-vus", scenario.Executor)
	assert.Equal(t, 4, scenario.TargetVUs)
	assert.Equal(t, 0, scenario.InterruptedVUs)
	assert.Empty(t, scenario.Error)

	// 4 VUs, 1s, >= 100ms per iteration: at most about 44 iterations
	assert.LessOrEqual(t, result.Metrics.Iterations, int64(48))
	assert.Equal(t, result.Metrics.TotalRequests, result.Metrics.Iterations)

	assert.Contains(t, result.RequestStats, "get_cep")
}

func TestEngineIntegration_VariantsAndURLs(t *testing.T) {
	server := newRecordingServer(t, nil)

	engine, err := NewEngine(cepConfig(server.URL, 5, "700ms"))
	require.NoError(t, err)

	_, err = engine.Run(context.Background())
	require.NoError(t, err)

	paths := server.Paths()
	require.NotEmpty(t, paths)

	seen := map[string]bool{}
	for _, p := range paths {
		assert.Contains(t, []string{"/cep/01310100", "/cep/01310-100"}, p)
		seen[p] = true
	}
	assert.Len(t, seen, 2, "both variants should be requested over a run")
}

func TestEngineIntegration_HyphenatedVariantFails(t *testing.T) {
	server := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "-") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	cfg := cepConfig(server.URL, 10, "1s")
	engine, err := NewEngine(cfg, WithSeed(3))
	require.NoError(t, err)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	rate := result.Metrics.Checks.Rate()
	assert.InDelta(t, 0.5, rate, 0.2, "about half of the checks should pass")
	assert.Equal(t, result.Metrics.FailedRequests, result.Metrics.Checks.Fails)

	// Check failures never fail the run by themselves
	assert.True(t, result.Passed)
}

func TestEngineIntegration_Thresholds_Failing(t *testing.T) {
	server := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(60 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	cfg := cepConfig(server.URL, 2, "500ms")
	cfg.Thresholds = &config.ThresholdsConfig{
		HTTPReqDuration: []string{"p90 < 20ms", "max < 5s"},
	}

	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	result, err := engine.Run(context.Background())
	require.NoError(t, err, "threshold failures are not run errors")

	assert.False(t, result.Passed)
	require.Len(t, result.Thresholds, 2)
	assert.False(t, result.Thresholds[0].Passed)
	assert.NotEmpty(t, result.Thresholds[0].Message)
	assert.True(t, result.Thresholds[1].Passed)
}

func TestEngineIntegration_Thresholds_Checks(t *testing.T) {
	server := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	cfg := cepConfig(server.URL, 2, "300ms")
	cfg.Thresholds = &config.ThresholdsConfig{
		Checks:        []string{"rate > 0.99"},
		HTTPReqFailed: []string{"rate < 0.01"},
	}

	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, 0.0, result.Metrics.Checks.Rate())
	assert.Equal(t, 1.0, result.Metrics.ErrorRate)
	for _, tr := range result.Thresholds {
		assert.False(t, tr.Passed, tr.Expression)
	}
}

func TestEngineIntegration_PerVUIterations_RequestCount(t *testing.T) {
	server := newRecordingServer(t, nil)

	cfg := &config.TestConfig{
		Name: "smoke",
		Scenarios: map[string]*config.ScenarioConfig{
			"smoke": {
				Executor:   config.ExecutorPerVUIterations,
				VUs:        3,
				Iterations: 4,
				Requests: []config.RequestConfig{
					{URL: server.URL + "/cep/01310100"},
				},
			},
		},
		Thresholds: &config.ThresholdsConfig{
			HTTPReqs: []string{"count == 12"},
		},
	}

	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(12), result.Metrics.TotalRequests)
	assert.Len(t, server.Paths(), 12)
	assert.True(t, result.Passed)
	assert.Equal(t, int64(12), result.Scenarios["smoke"].Iterations)

	// Request name defaulted from the scenario name
	assert.Contains(t, result.RequestStats, "smoke_request_1")
}

func TestEngineIntegration_ContextCancellation(t *testing.T) {
	server := newRecordingServer(t, nil)

	engine, err := NewEngine(cepConfig(server.URL, 2, "1m"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := engine.Run(ctx)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "err = %v", err)
	require.NotNil(t, result, "a cancelled run still returns its result")
	assert.Equal(t, err, result.Error)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestEngineIntegration_AlreadyRunning(t *testing.T) {
	server := newRecordingServer(t, nil)

	engine, err := NewEngine(cepConfig(server.URL, 1, "500ms"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = engine.Run(context.Background())
	}()

	require.Eventually(t, engine.IsRunning, 2*time.Second, 5*time.Millisecond)

	_, err = engine.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	<-done
	assert.False(t, engine.IsRunning())
}

func TestEngineIntegration_Stop(t *testing.T) {
	server := newRecordingServer(t, nil)

	engine, err := NewEngine(cepConfig(server.URL, 2, "1m"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := engine.Run(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool {
		m := engine.GetMetrics()
		return m != nil && m.TotalRequests > 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, engine.Stop(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after Stop()")
	}
}

func TestEngineIntegration_WithMetricsEngine(t *testing.T) {
	server := newRecordingServer(t, nil)

	m := metrics.NewEngine()
	defer m.Stop()

	engine, err := NewEngine(cepConfig(server.URL, 2, "300ms"), WithMetricsEngine(m))
	require.NoError(t, err)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	snap := m.GetSnapshot()
	assert.Equal(t, result.Metrics.TotalRequests, snap.TotalRequests)
	assert.Equal(t, metrics.PhaseDone, m.GetPhase())
}

func TestEngineIntegration_SequentialScenarios(t *testing.T) {
	server := newRecordingServer(t, nil)

	cfg := &config.TestConfig{
		Name: "sequential",
		Scenarios: map[string]*config.ScenarioConfig{
			"a": {
				Executor:   config.ExecutorPerVUIterations,
				VUs:        1,
				Iterations: 2,
				Requests:   []config.RequestConfig{{URL: server.URL + "/a"}},
			},
			"b": {
				Executor:   config.ExecutorPerVUIterations,
				VUs:        1,
				Iterations: 2,
				Requests:   []config.RequestConfig{{URL: server.URL + "/b"}},
			},
		},
		Options: &config.ExecutionOptions{Sequential: true},
	}

	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, result.Scenarios, 2)
	assert.Equal(t, []string{"/a", "/a", "/b", "/b"}, server.Paths())
}

func TestEngineIntegration_ConcurrentScenariosLiveState(t *testing.T) {
	server := newRecordingServer(t, nil)

	pacing := &config.PacingConfig{Type: "constant", Duration: "20ms"}
	cfg := &config.TestConfig{
		Name: "concurrent",
		Scenarios: map[string]*config.ScenarioConfig{
			"a": {VUs: 3, Duration: "600ms", Pacing: pacing, Requests: []config.RequestConfig{{URL: server.URL + "/a"}}},
			"b": {VUs: 2, Duration: "1500ms", Pacing: pacing, Requests: []config.RequestConfig{{URL: server.URL + "/b"}}},
		},
	}

	m := metrics.NewEngine()
	defer m.Stop()

	engine, err := NewEngine(cfg, WithMetricsEngine(m))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := engine.Run(context.Background())
		done <- err
	}()

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 5, m.GetActiveVUs(), "both scenarios running")
	assert.Equal(t, metrics.PhaseSteady, m.GetPhase())

	time.Sleep(700 * time.Millisecond)
	assert.Equal(t, 2, m.GetActiveVUs(), "only b running")
	assert.Equal(t, metrics.PhaseSteady, m.GetPhase())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
	}

	assert.Equal(t, 0, m.GetActiveVUs())
	assert.Equal(t, metrics.PhaseDone, m.GetPhase())

	var phases []metrics.Phase
	for _, pc := range m.GetPhaseHistory() {
		phases = append(phases, pc.Phase)
	}
	assert.Equal(t, []metrics.Phase{metrics.PhaseSteady, metrics.PhaseGracefulStop, metrics.PhaseDone}, phases)
}

func TestEngineIntegration_StopSkipsPendingSequentialScenarios(t *testing.T) {
	server := newRecordingServer(t, nil)

	pacing := &config.PacingConfig{Type: "constant", Duration: "20ms"}
	cfg := &config.TestConfig{
		Name: "sequential stop",
		Scenarios: map[string]*config.ScenarioConfig{
			"a": {VUs: 1, Duration: "10s", Pacing: pacing, Requests: []config.RequestConfig{{URL: server.URL + "/a"}}},
			"b": {VUs: 1, Duration: "10s", Pacing: pacing, Requests: []config.RequestConfig{{URL: server.URL + "/b"}}},
		},
		Options: &config.ExecutionOptions{Sequential: true},
	}

	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := engine.Run(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return len(server.Paths()) > 0 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, engine.Stop(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() kept going after Stop()")
	}

	assert.NotContains(t, server.Paths(), "/b")
}

func TestEngineIntegration_VariablesAndHeaders(t *testing.T) {
	server := newRecordingServer(t, nil)

	cfg := &config.TestConfig{
		Name: "headers",
		Settings: config.GlobalSettings{
			BaseURL: server.URL,
			Headers: map[string]string{"X-Env": "{{env}}"},
		},
		Variables: map[string]string{"env": "ci"},
		Scenarios: map[string]*config.ScenarioConfig{
			"s": {
				Executor:   config.ExecutorPerVUIterations,
				VUs:        1,
				Iterations: 1,
				Requests: []config.RequestConfig{
					{
						URL:     "{{baseUrl}}/cep/{{missing}}",
						Headers: map[string]string{"Accept": "application/json"},
					},
				},
			},
		},
	}

	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	_, err = engine.Run(context.Background())
	require.NoError(t, err)

	headers := server.Headers()
	require.Len(t, headers, 1)
	assert.Equal(t, "ci", headers[0].Get("X-Env"))
	assert.Equal(t, "application/json", headers[0].Get("Accept"))
	assert.True(t, strings.HasPrefix(headers[0].Get("User-Agent"), "cepbench/"))

	// Unknown placeholders are sent as-is
	assert.Equal(t, []string{"/cep/{{missing}}"}, server.Paths())
}

func TestEngineIntegration_SeededRunsAreReproducible(t *testing.T) {
	run := func() []string {
		server := newRecordingServer(t, nil)
		cfg := &config.TestConfig{
			Name: "seeded",
			Settings: config.GlobalSettings{
				BaseURL: server.URL,
			},
			Scenarios: map[string]*config.ScenarioConfig{
				"s": {
					Executor:   config.ExecutorPerVUIterations,
					VUs:        1,
					Iterations: 20,
					Datasets:   map[string][]string{"cep": {"01310100", "01310-100"}},
					Requests:   []config.RequestConfig{{URL: "{{baseUrl}}/cep/{{cep}}"}},
				},
			},
		}

		engine, err := NewEngine(cfg, WithSeed(99))
		require.NoError(t, err)
		_, err = engine.Run(context.Background())
		require.NoError(t, err)
		return server.Paths()
	}

	first := run()
	second := run()
	require.Len(t, first, 20)
	assert.Equal(t, first, second)
}

func TestEngineIntegration_ConfigParsing_YAML(t *testing.T) {
	server := newRecordingServer(t, nil)

	yamlDoc := `
name: yaml test
settings:
  baseUrl: ` + server.URL + `
scenarios:
  smoke:
    executor: per-vu-iterations
    vus: 2
    iterations: 2
    datasets:
      cep: ["01310100", "01310-100"]
    requests:
      - url: "{{baseUrl}}/cep/{{cep}}"
        checks:
          - value: 200
thresholds:
  checks: ["rate == 1"]
`

	cfg, err := config.ParseConfig([]byte(yamlDoc), "test.yaml")
	require.NoError(t, err)

	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "yaml test", result.Name)
	assert.Equal(t, int64(4), result.Metrics.TotalRequests)
	assert.True(t, result.Passed)
}

func TestEngineIntegration_InvalidConfig(t *testing.T) {
	_, err := NewEngine(&config.TestConfig{Name: "empty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")

	var verrs *config.ValidationErrors
	assert.True(t, errors.As(err, &verrs))

	_, err = NewEngine(nil)
	assert.Error(t, err)
}

func TestEngineIntegration_InvalidThreshold(t *testing.T) {
	cfg := cepConfig("http://localhost:1", 1, "1s")
	cfg.Thresholds = &config.ThresholdsConfig{HTTPReqDuration: []string{"p42 < 1s"}}

	_, err := NewEngine(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thresholds.http_req_duration")
}

func TestEngineIntegration_TransportErrors(t *testing.T) {
	// Nothing listens on the closed server's address
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	cfg := cepConfig(addr, 1, "300ms")
	cfg.Settings.Timeout = config.Duration(time.Second)

	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	result, err := engine.Run(context.Background())
	require.NoError(t, err, "transport errors are recorded, not returned")

	assert.True(t, result.Metrics.TotalRequests > 0)
	assert.Equal(t, result.Metrics.TotalRequests, result.Metrics.FailedRequests)
	assert.Equal(t, 0.0, result.Metrics.Checks.Rate())
}

func TestEngine_EstimatedDuration(t *testing.T) {
	cfg := cepConfig("http://localhost:1", 100, "30s")
	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, engine.EstimatedDuration())
	assert.Equal(t, 0.0, engine.GetProgress())
}
