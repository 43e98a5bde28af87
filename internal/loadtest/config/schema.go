// Package config provides configuration parsing and validation for cepbench
// load tests.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Executor type names accepted in ScenarioConfig.Executor.
const (
	ExecutorConstantVUs     = "constant-vus"
	ExecutorPerVUIterations = "per-vu-iterations"
)

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "CEP lookup"
//	settings:
//	  baseUrl: "http://brasilcep-api:8080"
//	  timeout: 30s
//	scenarios:
//	  cep:
//	    executor: constant-vus
//	    vus: 100
//	    duration: 30s
//	    pacing:
//	      type: constant
//	      duration: 100ms
//	    datasets:
//	      cep: ["01310100", "01310-100"]
//	    requests:
//	      - name: "get cep"
//	        method: GET
//	        url: "{{baseUrl}}/cep/{{cep}}"
//	        checks:
//	          - type: status
//	            condition: eq
//	            value: 200
//	thresholds:
//	  http_req_duration: ["p90 < 200ms"]
type TestConfig struct {
	Name        string                     `json:"name" yaml:"name"`
	Description string                     `json:"description,omitempty" yaml:"description,omitempty"`
	Settings    GlobalSettings             `json:"settings,omitempty" yaml:"settings,omitempty"`
	Variables   map[string]string          `json:"variables,omitempty" yaml:"variables,omitempty"`
	Scenarios   map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`
	Thresholds  *ThresholdsConfig          `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Options     *ExecutionOptions          `json:"options,omitempty" yaml:"options,omitempty"`
}

// GlobalSettings shape the HTTP client shared by every scenario. BaseURL is
// exposed to requests as {{baseUrl}}; Headers and UserAgent are sent with
// every request unless a request header overrides them.
type GlobalSettings struct {
	BaseURL               string            `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Timeout               Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxConnectionsPerHost int               `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`
	MaxIdleConnsPerHost   int               `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
	InsecureSkipVerify    bool              `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
	UserAgent             string            `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
	Headers               map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ScenarioConfig is one load profile.
//
// For constant-vus, Duration is the window in which iterations start; for
// per-vu-iterations it only caps the run. GracefulStop bounds how long
// in-flight iterations may finish once no new ones start. Each iteration
// picks one value per dataset and sends Requests in order.
type ScenarioConfig struct {
	Executor     string              `json:"executor" yaml:"executor"`
	VUs          int                 `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration     string              `json:"duration,omitempty" yaml:"duration,omitempty"`
	Iterations   int                 `json:"iterations,omitempty" yaml:"iterations,omitempty"`
	GracefulStop string              `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
	Pacing       *PacingConfig       `json:"pacing,omitempty" yaml:"pacing,omitempty"`
	Datasets     map[string][]string `json:"datasets,omitempty" yaml:"datasets,omitempty"`
	Requests     []RequestConfig     `json:"requests" yaml:"requests"`

	// Tags are exposed to requests as variables, overriding global ones.
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// RequestConfig is one GET or HEAD request. URL and headers may contain
// {{name}} placeholders. Timeout overrides settings.timeout; ThinkTime is
// waited after the request.
type RequestConfig struct {
	Name      string            `json:"name,omitempty" yaml:"name,omitempty"`
	Method    string            `json:"method" yaml:"method"`
	URL       string            `json:"url" yaml:"url"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Timeout   string            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	ThinkTime string            `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`
	Checks    []CheckConfig     `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// CheckConfig compares the response status with Value. Checks are tallied,
// they never abort an iteration.
type CheckConfig struct {
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	Type      string `json:"type" yaml:"type"`           // only "status"
	Condition string `json:"condition" yaml:"condition"` // eq, ne, lt, lte, gt, gte
	Value     int    `json:"value" yaml:"value"`
}

// PacingConfig is the pause after every iteration: none, constant
// (Duration) or random in [Min, Max).
type PacingConfig struct {
	Type     string `json:"type" yaml:"type"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
	Min      string `json:"min,omitempty" yaml:"min,omitempty"`
	Max      string `json:"max,omitempty" yaml:"max,omitempty"`
}

// ThresholdsConfig holds pass/fail expressions per metric, such as
// "p90 < 200ms" for http_req_duration or "rate < 0.01" for http_req_failed.
type ThresholdsConfig struct {
	HTTPReqDuration []string `json:"http_req_duration,omitempty" yaml:"http_req_duration,omitempty"`
	HTTPReqFailed   []string `json:"http_req_failed,omitempty" yaml:"http_req_failed,omitempty"`
	HTTPReqs        []string `json:"http_reqs,omitempty" yaml:"http_reqs,omitempty"`
	Checks          []string `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// IsEmpty reports whether no threshold is configured.
func (t *ThresholdsConfig) IsEmpty() bool {
	if t == nil {
		return true
	}
	for _, metric := range thresholdMetrics {
		if len(t.expressions(metric)) > 0 {
			return false
		}
	}
	return true
}

// ExecutionOptions controls how scenarios are scheduled. Sequential runs
// them one at a time in name order.
type ExecutionOptions struct {
	Sequential bool `json:"sequential,omitempty" yaml:"sequential,omitempty"`
}

// Duration accepts "30s" style strings, or bare seconds, in YAML and JSON.
type Duration time.Duration

// GetDuration returns d, or def when d is zero.
func (d Duration) GetDuration(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) set(s string) error {
	v, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	switch {
	case string(b) == "null":
		*d = 0
		return nil
	case len(b) > 0 && b[0] != '"':
		// bare number of seconds
		return d.set(string(b))
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.set(s)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	return d.set(node.Value)
}
