package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ValidationError is a problem with one configuration field. Field is a
// dotted path such as "scenarios.cep.vus", or empty for document-wide
// problems.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	switch len(e.Errors) {
	case 0:
		return "no validation errors"
	case 1:
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err)
	}
	return sb.String()
}

// Add records a problem with field.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors reports whether any problem was recorded.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// duration parses raw for field. Empty input is reported when required and
// otherwise yields ok == false without an error.
func (e *ValidationErrors) duration(field, raw string, required bool) (time.Duration, bool) {
	if raw == "" {
		if required {
			e.Add(field, "is required")
		}
		return 0, false
	}
	d, err := ParseDurationString(raw)
	if err != nil {
		e.Add(field, err.Error())
		return 0, false
	}
	return d, true
}

var (
	placeholderRegex = regexp.MustCompile(`\{\{[^}]*\}\}`)

	validMethods    = map[string]bool{"GET": true, "HEAD": true}
	validConditions = map[string]bool{"eq": true, "ne": true, "lt": true, "lte": true, "gt": true, "gte": true}
)

// Validate reports every problem in c as a *ValidationErrors, or nil.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}
	for name, sc := range c.Scenarios {
		if sc == nil {
			errs.Add("scenarios."+name, "scenario is empty")
			continue
		}
		sc.validate("scenarios."+name, errs)
	}

	if c.Thresholds != nil {
		c.Thresholds.validate(errs)
	}
	c.Settings.validate(errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (sc *ScenarioConfig) validate(prefix string, errs *ValidationErrors) {
	switch sc.Executor {
	case "":
		errs.Add(prefix+".executor", "executor type is required")
	case ExecutorConstantVUs:
		if sc.VUs <= 0 {
			errs.Add(prefix+".vus", "vus must be greater than 0")
		}
		if d, ok := errs.duration(prefix+".duration", sc.Duration, true); ok && d <= 0 {
			errs.Add(prefix+".duration", "duration must be greater than 0")
		}
	case ExecutorPerVUIterations:
		if sc.VUs <= 0 {
			errs.Add(prefix+".vus", "vus must be greater than 0")
		}
		if sc.Iterations <= 0 {
			errs.Add(prefix+".iterations", "iterations must be greater than 0")
		}
		errs.duration(prefix+".duration", sc.Duration, false)
	default:
		errs.Add(prefix+".executor", "unknown executor type: "+sc.Executor)
	}

	if d, ok := errs.duration(prefix+".gracefulStop", sc.GracefulStop, false); ok && d < 0 {
		errs.Add(prefix+".gracefulStop", "gracefulStop cannot be negative")
	}

	for name, values := range sc.Datasets {
		switch {
		case name == "":
			errs.Add(prefix+".datasets", "dataset name cannot be empty")
		case len(values) == 0:
			errs.Add(prefix+".datasets."+name, "dataset must contain at least one value")
		}
	}

	if len(sc.Requests) == 0 {
		errs.Add(prefix+".requests", "at least one request is required")
	}
	for i := range sc.Requests {
		sc.Requests[i].validate(fmt.Sprintf("%s.requests[%d]", prefix, i), errs)
	}

	if sc.Pacing != nil {
		sc.Pacing.validate(prefix+".pacing", errs)
	}
}

func (r *RequestConfig) validate(prefix string, errs *ValidationErrors) {
	switch method := strings.ToUpper(r.Method); {
	case method == "":
		errs.Add(prefix+".method", "method is required")
	case !validMethods[method]:
		errs.Add(prefix+".method", fmt.Sprintf("unsupported HTTP method: %s (GET or HEAD)", r.Method))
	}

	if r.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else if _, err := url.Parse(placeholderRegex.ReplaceAllString(r.URL, "x")); err != nil {
		errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
	}

	errs.duration(prefix+".timeout", r.Timeout, false)
	errs.duration(prefix+".thinkTime", r.ThinkTime, false)

	for i := range r.Checks {
		r.Checks[i].validate(fmt.Sprintf("%s.checks[%d]", prefix, i), errs)
	}
}

func (c *CheckConfig) validate(prefix string, errs *ValidationErrors) {
	switch c.Type {
	case "status":
	case "":
		errs.Add(prefix+".type", "type is required")
	default:
		errs.Add(prefix+".type", fmt.Sprintf("unsupported check type: %s (only status)", c.Type))
	}

	switch {
	case c.Condition == "":
		errs.Add(prefix+".condition", "condition is required")
	case !validConditions[c.Condition]:
		errs.Add(prefix+".condition", "invalid condition: "+c.Condition)
	}

	if c.Value < 100 || c.Value > 599 {
		errs.Add(prefix+".value", fmt.Sprintf("status value out of range: %d", c.Value))
	}
}

func (p *PacingConfig) validate(prefix string, errs *ValidationErrors) {
	switch p.Type {
	case "none":
	case "constant":
		errs.duration(prefix+".duration", p.Duration, true)
	case "random":
		lo, okLo := errs.duration(prefix+".min", p.Min, true)
		hi, okHi := errs.duration(prefix+".max", p.Max, true)
		if okLo && okHi && lo > hi {
			errs.Add(prefix, "min must be less than or equal to max")
		}
	default:
		errs.Add(prefix+".type", "invalid pacing type: "+p.Type)
	}
}

func (t *ThresholdsConfig) validate(errs *ValidationErrors) {
	for _, metric := range thresholdMetrics {
		for i, expr := range t.expressions(metric) {
			if _, err := ParseThreshold(metric, expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", metric, i), err.Error())
			}
		}
	}
}

func (s *GlobalSettings) validate(errs *ValidationErrors) {
	if s.BaseURL != "" {
		if u, err := url.Parse(s.BaseURL); err != nil {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs.Add("settings.baseUrl", fmt.Sprintf("unsupported scheme: %q", u.Scheme))
		}
	}

	for field, v := range map[string]int64{
		"settings.timeout":               int64(s.Timeout),
		"settings.maxConnectionsPerHost": int64(s.MaxConnectionsPerHost),
		"settings.maxIdleConnsPerHost":   int64(s.MaxIdleConnsPerHost),
	} {
		if v < 0 {
			errs.Add(field, "cannot be negative")
		}
	}
}
