package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brasilcep/cepbench/internal/version"
)

// Defaults filled in by ApplyDefaults.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultGracefulStop     = 30 * time.Second
	DefaultMaxConnsPerHost  = 100
	DefaultMaxIdleConnsHost = 100
)

// LoadConfig reads and decodes the configuration file at path.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data, path)
}

// ParseConfig decodes data as JSON when path ends in .json and as YAML
// otherwise. No defaults are applied.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	cfg := &TestConfig{}
	if isJSON(path) {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return cfg, nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// ParseDurationString accepts Go durations ("100ms", "1h30m") and bare
// integers, taken as seconds. The empty string is zero.
func ParseDurationString(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ParseScenarioDuration returns the scenario duration, or 0 when unset.
func ParseScenarioDuration(sc *ScenarioConfig) (time.Duration, error) {
	return ParseDurationString(sc.Duration)
}

// MergeVariables merges maps left to right; later keys win.
func MergeVariables(maps ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}

// ApplyDefaults fills every omitted field that has a default. It runs
// before Validate, so a minimal document validates.
func ApplyDefaults(cfg *TestConfig) {
	s := &cfg.Settings
	if s.Timeout == 0 {
		s.Timeout = Duration(DefaultTimeout)
	}
	if s.MaxConnectionsPerHost == 0 {
		s.MaxConnectionsPerHost = DefaultMaxConnsPerHost
	}
	if s.MaxIdleConnsPerHost == 0 {
		s.MaxIdleConnsPerHost = DefaultMaxIdleConnsHost
	}
	if s.UserAgent == "" {
		s.UserAgent = version.UserAgent()
	}
	if cfg.Options == nil {
		cfg.Options = &ExecutionOptions{}
	}

	for name, sc := range cfg.Scenarios {
		if sc != nil {
			sc.applyDefaults(name)
		}
	}
}

func (sc *ScenarioConfig) applyDefaults(name string) {
	if sc.Executor == "" {
		sc.Executor = ExecutorConstantVUs
	}
	if sc.VUs == 0 {
		sc.VUs = 1
	}
	if sc.Iterations == 0 && sc.Executor == ExecutorPerVUIterations {
		sc.Iterations = 1
	}
	if sc.GracefulStop == "" {
		sc.GracefulStop = DefaultGracefulStop.String()
	}

	for i := range sc.Requests {
		req := &sc.Requests[i]
		if req.Name == "" {
			req.Name = fmt.Sprintf("%s_request_%d", name, i+1)
		}
		req.Method = strings.ToUpper(req.Method)
		if req.Method == "" {
			req.Method = "GET"
		}
		for j := range req.Checks {
			req.Checks[j].applyDefaults()
		}
	}
}

func (c *CheckConfig) applyDefaults() {
	if c.Type == "" {
		c.Type = "status"
	}
	if c.Condition == "" {
		c.Condition = "eq"
	}
	if c.Name == "" {
		c.Name = DefaultCheckName(*c)
	}
}

// DefaultCheckName names a check after its assertion: "status 200" for eq,
// "status lt 500" otherwise.
func DefaultCheckName(c CheckConfig) string {
	if c.Condition == "eq" {
		return fmt.Sprintf("%s %d", c.Type, c.Value)
	}
	return fmt.Sprintf("%s %s %d", c.Type, c.Condition, c.Value)
}
