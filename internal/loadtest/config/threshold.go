package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Threshold metric names, as used in ThresholdsConfig keys.
const (
	MetricHTTPReqDuration = "http_req_duration"
	MetricHTTPReqFailed   = "http_req_failed"
	MetricHTTPReqs        = "http_reqs"
	MetricChecks          = "checks"
)

var thresholdRegex = regexp.MustCompile(`^(\w+)\s*(<=|>=|==|!=|<|>)\s*(.+)$`)

// durationAggregates are the aggregations valid for http_req_duration.
var durationAggregates = map[string]bool{
	"p50": true, "p90": true, "p95": true, "p99": true,
	"min": true, "max": true, "avg": true, "med": true,
}

// Threshold is a parsed threshold expression such as "p90 < 200ms".
type Threshold struct {
	Metric    string
	Aggregate string
	Operator  string
	Raw       string

	// Value is the right-hand side; durations are expressed in milliseconds.
	Value float64
}

// String returns the original expression.
func (t Threshold) String() string {
	return t.Raw
}

// Compare applies the threshold operator to actual.
func (t Threshold) Compare(actual float64) bool {
	switch t.Operator {
	case "<":
		return actual < t.Value
	case "<=":
		return actual <= t.Value
	case ">":
		return actual > t.Value
	case ">=":
		return actual >= t.Value
	case "==":
		return actual == t.Value
	case "!=":
		return actual != t.Value
	}
	return false
}

// ParseThreshold parses expr for the given metric.
//
// Valid aggregates per metric:
//   - http_req_duration: p50, p90, p95, p99, min, max, avg, med (value is a duration; bare numbers are ms)
//   - http_req_failed, checks: rate
//   - http_reqs: count, rate
func ParseThreshold(metric, expr string) (Threshold, error) {
	raw := strings.TrimSpace(expr)
	if raw == "" {
		return Threshold{}, fmt.Errorf("threshold expression cannot be empty")
	}

	m := thresholdRegex.FindStringSubmatch(raw)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold expression %q: want '<aggregate> <op> <value>'", raw)
	}

	t := Threshold{
		Metric:    metric,
		Aggregate: m[1],
		Operator:  m[2],
		Raw:       raw,
	}
	valueStr := strings.TrimSpace(m[3])

	switch metric {
	case MetricHTTPReqDuration:
		if !durationAggregates[t.Aggregate] {
			return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s", t.Aggregate, metric)
		}
		v, err := parseDurationMillis(valueStr)
		if err != nil {
			return Threshold{}, err
		}
		t.Value = v

	case MetricHTTPReqFailed, MetricChecks:
		if t.Aggregate != "rate" {
			return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (only rate)", t.Aggregate, metric)
		}
		v, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			return Threshold{}, fmt.Errorf("invalid rate value %q", valueStr)
		}
		t.Value = v

	case MetricHTTPReqs:
		if t.Aggregate != "count" && t.Aggregate != "rate" {
			return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (count or rate)", t.Aggregate, metric)
		}
		v, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			return Threshold{}, fmt.Errorf("invalid value %q", valueStr)
		}
		t.Value = v

	default:
		return Threshold{}, fmt.Errorf("unknown threshold metric %q", metric)
	}

	return t, nil
}

// parseDurationMillis parses "200ms", "1.5s" or a bare number of milliseconds.
func parseDurationMillis(s string) (float64, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return float64(d) / float64(time.Millisecond), nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	return 0, fmt.Errorf("invalid duration value %q", s)
}

// thresholdMetrics is the order thresholds are parsed and reported in.
var thresholdMetrics = []string{MetricHTTPReqDuration, MetricHTTPReqFailed, MetricHTTPReqs, MetricChecks}

func (t *ThresholdsConfig) expressions(metric string) []string {
	switch metric {
	case MetricHTTPReqDuration:
		return t.HTTPReqDuration
	case MetricHTTPReqFailed:
		return t.HTTPReqFailed
	case MetricHTTPReqs:
		return t.HTTPReqs
	case MetricChecks:
		return t.Checks
	}
	return nil
}

// ParseThresholds parses every expression in cfg, in the order
// http_req_duration, http_req_failed, http_reqs, checks.
func ParseThresholds(cfg *ThresholdsConfig) ([]Threshold, error) {
	if cfg == nil {
		return nil, nil
	}

	var result []Threshold
	for _, metric := range thresholdMetrics {
		for _, expr := range cfg.expressions(metric) {
			t, err := ParseThreshold(metric, expr)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", metric, err)
			}
			result = append(result, t)
		}
	}
	return result, nil
}
