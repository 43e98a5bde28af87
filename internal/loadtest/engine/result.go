package engine

import (
	"time"

	"github.com/brasilcep/cepbench/internal/loadtest/metrics"
)

// TestResult is everything a finished run reports. Error is set when the
// run itself failed; threshold failures only clear Passed.
type TestResult struct {
	RunID       string        `json:"runId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	Scenarios map[string]*ScenarioResult `json:"scenarios"`

	Metrics      *metrics.Snapshot       `json:"metrics"`
	TimeSeries   []*metrics.TimeBucket   `json:"timeSeries,omitempty"`
	RequestStats map[string]RequestStats `json:"requestStats,omitempty"`
	Checks       []metrics.CheckStats    `json:"checks,omitempty"`

	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`

	Error error `json:"-"`
}

// ScenarioResult is what one scenario's executor reported.
type ScenarioResult struct {
	Name           string        `json:"name"`
	Executor       string        `json:"executor"`
	Duration       time.Duration `json:"duration"`
	Iterations     int64         `json:"iterations"`
	TargetVUs      int           `json:"targetVUs"`
	InterruptedVUs int           `json:"interruptedVUs"`
	Error          string        `json:"error,omitempty"`
}

// RequestStats is the latency of one named request.
type RequestStats struct {
	Name    string               `json:"name"`
	Count   int64                `json:"count"`
	Latency metrics.LatencyStats `json:"latency"`
}

// ThresholdResult is one evaluated threshold. Value is Actual formatted in
// the threshold's unit; Message explains a threshold that could not be
// evaluated.
type ThresholdResult struct {
	Metric     string  `json:"metric"`
	Expression string  `json:"expression"`
	Passed     bool    `json:"passed"`
	Actual     float64 `json:"actual"`
	Value      string  `json:"value"`
	Message    string  `json:"message,omitempty"`
}
