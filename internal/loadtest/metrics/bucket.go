package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Series is a bounded time series of buckets. Requests and checks are
// accumulated into the open interval until Close seals it; once the ring
// is full the oldest bucket is dropped.
type Series struct {
	interval time.Duration

	mu       sync.RWMutex
	ring     []*TimeBucket
	first    int
	size     int
	openedAt time.Time

	requests    atomic.Int64
	failed      atomic.Int64
	checkPasses atomic.Int64
	checkFails  atomic.Int64
}

// NewSeries creates a series holding at most capacity buckets of the given
// interval.
func NewSeries(capacity int, interval time.Duration) *Series {
	if capacity <= 0 {
		capacity = DefaultOptions().MaxBuckets
	}
	if interval <= 0 {
		interval = DefaultOptions().BucketInterval
	}
	return &Series{
		interval: interval,
		ring:     make([]*TimeBucket, capacity),
		openedAt: time.Now(),
	}
}

// AddRequest counts a request into the open interval.
func (s *Series) AddRequest(success bool) {
	s.requests.Add(1)
	if !success {
		s.failed.Add(1)
	}
}

// AddCheck counts a check outcome into the open interval.
func (s *Series) AddCheck(passed bool) {
	if passed {
		s.checkPasses.Add(1)
	} else {
		s.checkFails.Add(1)
	}
}

// Close seals the open interval into a bucket and opens the next one.
func (s *Series) Close(total Counters, latency LatencyStats, activeVUs int, phase Phase) *TimeBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	width := now.Sub(s.openedAt).Seconds()
	if width <= 0 {
		width = s.interval.Seconds()
	}

	b := &TimeBucket{
		Timestamp: now,
		Phase:     phase,
		ActiveVUs: activeVUs,
		Requests:  s.requests.Swap(0),
		Failed:    s.failed.Swap(0),
		Checks: CheckTotals{
			Passes: s.checkPasses.Swap(0),
			Fails:  s.checkFails.Swap(0),
		},
		Total:   total,
		Latency: latency,
	}
	b.RPS = float64(b.Requests) / width

	if s.size < len(s.ring) {
		s.ring[(s.first+s.size)%len(s.ring)] = b
		s.size++
	} else {
		s.ring[s.first] = b
		s.first = (s.first + 1) % len(s.ring)
	}
	s.openedAt = now

	return b
}

// Buckets returns the stored buckets, oldest first.
func (s *Series) Buckets() []*TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.size == 0 {
		return nil
	}
	out := make([]*TimeBucket, s.size)
	for i := range out {
		out[i] = s.ring[(s.first+i)%len(s.ring)]
	}
	return out
}

// Latest returns the most recent bucket, or nil.
func (s *Series) Latest() *TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.size == 0 {
		return nil
	}
	return s.ring[(s.first+s.size-1)%len(s.ring)]
}

// Len returns the number of stored buckets.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// SteadyRPS averages the request rate over steady-phase buckets, so the
// ramp at start and the graceful-stop tail do not drag it down. It also
// returns how many buckets were averaged.
func (s *Series) SteadyRPS() (float64, int) {
	var requests int64
	n := 0
	for _, b := range s.Buckets() {
		if b.Phase != PhaseSteady {
			continue
		}
		requests += b.Requests
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return float64(requests) / (float64(n) * s.interval.Seconds()), n
}

// Reset drops every bucket and the open interval.
func (s *Series) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.ring)
	s.first, s.size = 0, 0
	s.openedAt = time.Now()

	s.requests.Store(0)
	s.failed.Store(0)
	s.checkPasses.Store(0)
	s.checkFails.Store(0)
}
