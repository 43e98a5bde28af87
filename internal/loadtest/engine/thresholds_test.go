package engine

import (
	"testing"
	"time"

	"github.com/brasilcep/cepbench/internal/loadtest/config"
	"github.com/brasilcep/cepbench/internal/loadtest/metrics"
)

func testSnapshot() *metrics.Snapshot {
	return &metrics.Snapshot{
		TotalRequests:  1000,
		FailedRequests: 5,
		ErrorRate:      0.005,
		RPS:            850,
		Checks:         metrics.CheckTotals{Passes: 990, Fails: 10},
		Latency: metrics.LatencyStats{
			Min:  2 * time.Millisecond,
			Max:  480 * time.Millisecond,
			Mean: 40 * time.Millisecond,
			P50:  30 * time.Millisecond,
			P90:  150 * time.Millisecond,
			P95:  210 * time.Millisecond,
			P99:  400 * time.Millisecond,
		},
	}
}

func TestEvaluateThreshold(t *testing.T) {
	tests := []struct {
		metric string
		expr   string
		passed bool
		actual float64
	}{
		{config.MetricHTTPReqDuration, "p90 < 200ms", true, 150},
		{config.MetricHTTPReqDuration, "p95 < 200ms", false, 210},
		{config.MetricHTTPReqDuration, "p99 <= 400ms", true, 400},
		{config.MetricHTTPReqDuration, "avg < 50", true, 40},
		{config.MetricHTTPReqDuration, "med == 30ms", true, 30},
		{config.MetricHTTPReqDuration, "max < 0.4s", false, 480},
		{config.MetricHTTPReqDuration, "min > 1ms", true, 2},
		{config.MetricHTTPReqFailed, "rate < 0.01", true, 0.005},
		{config.MetricHTTPReqFailed, "rate == 0", false, 0.005},
		{config.MetricChecks, "rate > 0.99", false, 0.99},
		{config.MetricChecks, "rate >= 0.99", true, 0.99},
		{config.MetricHTTPReqs, "count > 500", true, 1000},
		{config.MetricHTTPReqs, "rate > 1000", false, 850},
	}

	snap := testSnapshot()
	for _, tt := range tests {
		t.Run(tt.metric+" "+tt.expr, func(t *testing.T) {
			th, err := config.ParseThreshold(tt.metric, tt.expr)
			if err != nil {
				t.Fatalf("ParseThreshold() error = %v", err)
			}

			got := EvaluateThreshold(th, snap)
			if got.Passed != tt.passed {
				t.Errorf("Passed = %v, want %v (value %s)", got.Passed, tt.passed, got.Value)
			}
			if got.Actual != tt.actual {
				t.Errorf("Actual = %v, want %v", got.Actual, tt.actual)
			}
			if got.Expression != tt.expr {
				t.Errorf("Expression = %q, want %q", got.Expression, tt.expr)
			}
			if !got.Passed && got.Message == "" {
				t.Error("failed threshold should carry a message")
			}
		})
	}
}

func TestEvaluateThreshold_EmptyRun(t *testing.T) {
	th, err := config.ParseThreshold(config.MetricChecks, "rate > 0.5")
	if err != nil {
		t.Fatalf("ParseThreshold() error = %v", err)
	}

	// No checks evaluated: rate is 0
	if got := EvaluateThreshold(th, &metrics.Snapshot{}); got.Passed {
		t.Error("checks rate threshold should fail when no check ran")
	}
}

func TestEvaluateThreshold_UnknownMetric(t *testing.T) {
	got := EvaluateThreshold(config.Threshold{Metric: "vus", Aggregate: "max", Operator: "<", Raw: "max < 1"}, testSnapshot())
	if got.Passed {
		t.Error("unknown metric should not pass")
	}
	if got.Message == "" {
		t.Error("unknown metric should carry a message")
	}
}
