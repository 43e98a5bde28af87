package loadtest

import (
	"context"
	"crypto/tls"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/brasilcep/cepbench/internal/loadtest/metrics"
)

// HTTPClientConfig shapes the client VUs send requests with.
type HTTPClientConfig struct {
	Timeout             time.Duration
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int // 0 means unlimited
	IdleConnTimeout     time.Duration
	InsecureSkipVerify  bool

	// PerVUClient gives every VU its own client and connection pool
	// instead of one pool shared by all VUs.
	PerVUClient bool
}

// DefaultHTTPClientConfig keeps enough idle connections per host for 100
// VUs hitting one service.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

func (c HTTPClientConfig) newClient() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        max(c.MaxIdleConnsPerHost, 100),
		MaxIdleConnsPerHost: c.MaxIdleConnsPerHost,
		MaxConnsPerHost:     c.MaxConnsPerHost,
		IdleConnTimeout:     c.IdleConnTimeout,
	}
	if c.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via settings.insecureSkipVerify
	}
	return &http.Client{Transport: transport, Timeout: c.Timeout}
}

// SchedulerOption configures a VUScheduler.
type SchedulerOption func(*VUScheduler)

// WithLogger sets the logger handed to spawned VUs.
func WithLogger(logger *zap.Logger) SchedulerOption {
	return func(s *VUScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSeed makes VU random sources deterministic: VU n is seeded with
// seed+n. Zero keeps clock seeding.
func WithSeed(seed int64) SchedulerOption {
	return func(s *VUScheduler) {
		s.seed = seed
	}
}

// VUScheduler spawns the VUs of one scenario and runs their iteration
// loop. Executors decide how many VUs to spawn and when to stop them.
type VUScheduler struct {
	scenario *Scenario
	metrics  *metrics.Engine
	logger   *zap.Logger
	http     HTTPClientConfig
	seed     int64

	shared *http.Client

	mu  sync.Mutex
	vus []*VirtualUser

	closing   chan struct{}
	closeOnce sync.Once
	running   sync.WaitGroup
}

// NewVUScheduler creates a scheduler for scenario.
func NewVUScheduler(scenario *Scenario, m *metrics.Engine, httpConfig HTTPClientConfig, opts ...SchedulerOption) *VUScheduler {
	s := &VUScheduler{
		scenario: scenario,
		metrics:  m,
		logger:   zap.NewNop(),
		http:     httpConfig,
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !httpConfig.PerVUClient {
		s.shared = httpConfig.newClient()
	}
	return s
}

// HTTPClient returns the client shared by all VUs, or nil with
// PerVUClient.
func (s *VUScheduler) HTTPClient() *http.Client {
	return s.shared
}

// SpawnVU creates a VU. It does not run until passed to RunVU.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	client := s.shared
	if client == nil {
		client = s.http.newClient()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := len(s.vus) + 1
	opts := []VUOption{WithVULogger(s.logger.With(zap.Int("vu", id)))}
	if s.seed != 0 {
		opts = append(opts, WithRandSource(rand.NewSource(s.seed+int64(id))))
	}
	vu := NewVirtualUser(id, s.scenario, client, s.metrics, opts...)
	s.vus = append(s.vus, vu)
	return vu
}

// ActiveVUs counts spawned VUs that have not stopped.
func (s *VUScheduler) ActiveVUs() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			n++
		}
	}
	return n
}

// StopAll asks every VU to stop after its current iteration.
func (s *VUScheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// LoopConfig controls how RunVU repeats iterations.
type LoopConfig struct {
	// Stop ends the loop before the next iteration; the iteration in
	// progress, including its pause, completes.
	Stop <-chan struct{}

	// Iterations bounds the loop when > 0.
	Iterations int64

	// Pause returns the wait after each iteration; nil means no pause.
	Pause func(rng *rand.Rand) time.Duration

	// OnIteration runs after each completed iteration, pause included.
	OnIteration func()
}

// RunVU loops iterations on vu until Stop is closed, the VU is asked to
// stop, the iteration budget is spent or ctx is done. Cancelling ctx
// aborts the iteration in flight.
//
// The pause follows every iteration, so consecutive requests of one VU are
// at least one pause apart.
func (s *VUScheduler) RunVU(ctx context.Context, vu *VirtualUser, loop LoopConfig) {
	s.running.Add(1)
	defer s.running.Done()
	defer vu.MarkStopped()

	for done := int64(0); loop.Iterations <= 0 || done < loop.Iterations; done++ {
		select {
		case <-ctx.Done():
			return
		case <-loop.Stop:
			return
		case <-vu.StopRequested():
			return
		case <-s.closing:
			return
		default:
		}

		if err := vu.RunIteration(ctx); err != nil {
			if ctx.Err() == nil {
				s.logger.Debug("iteration aborted", zap.Int("vu", vu.ID), zap.Error(err))
			}
			return
		}

		if loop.Pause != nil {
			if err := sleepCtx(ctx, loop.Pause(vu.Rand())); err != nil {
				return
			}
		}

		if loop.OnIteration != nil {
			loop.OnIteration()
		}
	}
}

// Shutdown stops every VU and waits up to timeout for their loops to
// return. Calling it again only waits.
func (s *VUScheduler) Shutdown(timeout time.Duration) {
	s.closeOnce.Do(func() { close(s.closing) })
	s.StopAll()

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("VUs still running after shutdown timeout", zap.Duration("timeout", timeout))
	}

	if s.shared != nil {
		s.shared.CloseIdleConnections()
	}
}
