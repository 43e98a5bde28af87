package engine

import (
	"fmt"
	"time"

	"github.com/brasilcep/cepbench/internal/loadtest/config"
	"github.com/brasilcep/cepbench/internal/loadtest/metrics"
)

// evaluateThresholds evaluates all configured thresholds against the final
// snapshot of the run.
func (e *Engine) evaluateThresholds(snapshot *metrics.Snapshot) []ThresholdResult {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]ThresholdResult, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, EvaluateThreshold(t, snapshot))
	}
	return results
}

// EvaluateThreshold evaluates t against snapshot. Duration aggregates are
// compared in milliseconds.
func EvaluateThreshold(t config.Threshold, snapshot *metrics.Snapshot) ThresholdResult {
	result := ThresholdResult{
		Metric:     t.Metric,
		Expression: t.Raw,
	}

	actual, display, err := thresholdActual(t, snapshot)
	if err != nil {
		result.Message = err.Error()
		return result
	}

	result.Actual = actual
	result.Value = display
	result.Passed = t.Compare(actual)

	if !result.Passed {
		result.Message = fmt.Sprintf("%s %s is %s, threshold: %s", t.Metric, t.Aggregate, display, t.Raw)
	}

	return result
}

func thresholdActual(t config.Threshold, snapshot *metrics.Snapshot) (float64, string, error) {
	switch t.Metric {
	case config.MetricHTTPReqDuration:
		var d time.Duration
		lat := snapshot.Latency
		switch t.Aggregate {
		case "min":
			d = lat.Min
		case "max":
			d = lat.Max
		case "avg":
			d = lat.Mean
		case "med", "p50":
			d = lat.P50
		case "p90":
			d = lat.P90
		case "p95":
			d = lat.P95
		case "p99":
			d = lat.P99
		default:
			return 0, "", fmt.Errorf("unknown aggregate: %s", t.Aggregate)
		}
		return millis(d), d.String(), nil

	case config.MetricHTTPReqFailed:
		return snapshot.ErrorRate, fmt.Sprintf("%.4f", snapshot.ErrorRate), nil

	case config.MetricChecks:
		rate := snapshot.Checks.Rate()
		return rate, fmt.Sprintf("%.4f", rate), nil

	case config.MetricHTTPReqs:
		switch t.Aggregate {
		case "count":
			return float64(snapshot.TotalRequests), fmt.Sprintf("%d", snapshot.TotalRequests), nil
		case "rate":
			return snapshot.RPS, fmt.Sprintf("%.2f", snapshot.RPS), nil
		}
		return 0, "", fmt.Errorf("http_reqs only supports 'count' or 'rate' metrics, got: %s", t.Aggregate)
	}

	return 0, "", fmt.Errorf("unknown metric: %s", t.Metric)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
