package metrics

import "time"

// Phase is the stage a run is in.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseSteady       Phase = "steady"
	PhaseGracefulStop Phase = "graceful-stop"
	PhaseDone         Phase = "done"
)

// Snapshot is a point-in-time view of a run.
//
// A request is successful when it got a response with status < 400. RPS is
// the steady-phase rate once at least one steady bucket exists, otherwise
// the rate over the whole elapsed time.
type Snapshot struct {
	TotalRequests   int64 `json:"totalRequests"`
	SuccessRequests int64 `json:"successRequests"`
	FailedRequests  int64 `json:"failedRequests"`
	TotalBytes      int64 `json:"totalBytes"`
	Iterations      int64 `json:"iterations"`

	Latency LatencyStats `json:"latency"`
	Checks  CheckTotals  `json:"checks"`

	RPS            float64 `json:"rps"`
	SteadyStateRPS float64 `json:"steadyStateRps"`
	ErrorRate      float64 `json:"errorRate"`

	ActiveVUs    int           `json:"activeVUs"`
	CurrentPhase Phase         `json:"currentPhase"`
	Elapsed      time.Duration `json:"elapsed"`
	StartTime    time.Time     `json:"startTime"`
	Timestamp    time.Time     `json:"timestamp"`
}

// LatencyStats summarizes a latency histogram. Zero values mean nothing
// was recorded.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// CheckTotals is the pass/fail tally of a set of checks.
type CheckTotals struct {
	Passes int64 `json:"passes"`
	Fails  int64 `json:"fails"`
}

// Total returns the number of evaluated checks.
func (c CheckTotals) Total() int64 {
	return c.Passes + c.Fails
}

// Rate returns the pass rate in [0, 1]. An empty tally has rate 0.
func (c CheckTotals) Rate() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return float64(c.Passes) / float64(total)
}

// CheckStats is the tally of one named check.
type CheckStats struct {
	Name string `json:"name"`
	CheckTotals
}

// Counters are the cumulative request totals at a bucket boundary.
type Counters struct {
	Requests int64 `json:"requests"`
	Failed   int64 `json:"failed"`
	Bytes    int64 `json:"bytes"`
}

// TimeBucket is one interval of the run's time series.
//
// Requests, Failed, Checks and RPS cover only the interval; Total and
// Latency are cumulative since the start of the run.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     Phase     `json:"phase"`
	ActiveVUs int       `json:"activeVUs"`

	Requests int64       `json:"requests"`
	Failed   int64       `json:"failed"`
	Checks   CheckTotals `json:"checks"`
	RPS      float64     `json:"rps"`

	Total   Counters     `json:"total"`
	Latency LatencyStats `json:"latency"`
}

// ErrorRate is the share of failed requests in the interval.
func (b *TimeBucket) ErrorRate() float64 {
	if b.Requests == 0 {
		return 0
	}
	return float64(b.Failed) / float64(b.Requests)
}

// PhaseChange records a phase transition and the request count at that
// moment.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// Options tunes the metrics engine. Histogram bounds are in microseconds.
type Options struct {
	BucketInterval time.Duration
	MaxBuckets     int

	LowestLatency  int64
	HighestLatency int64
	SigFigs        int
}

// DefaultOptions keeps one hour of 1s buckets and records latencies from
// 1µs to 1h with 3 significant figures.
func DefaultOptions() Options {
	return Options{
		BucketInterval: time.Second,
		MaxBuckets:     3600,
		LowestLatency:  1,
		HighestLatency: int64(time.Hour / time.Microsecond),
		SigFigs:        3,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BucketInterval <= 0 {
		o.BucketInterval = d.BucketInterval
	}
	if o.MaxBuckets <= 0 {
		o.MaxBuckets = d.MaxBuckets
	}
	if o.LowestLatency <= 0 {
		o.LowestLatency = d.LowestLatency
	}
	if o.HighestLatency <= o.LowestLatency {
		o.HighestLatency = d.HighestLatency
	}
	if o.SigFigs <= 0 || o.SigFigs > 5 {
		o.SigFigs = d.SigFigs
	}
	return o
}
