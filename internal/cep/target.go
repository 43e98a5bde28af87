package cep

import (
	"fmt"
	"net/url"
	"strconv"
)

// Target defaults.
const (
	DefaultScheme = "http"
	DefaultHost   = "brasilcep-api"
	DefaultPort   = 8080
)

// Target is the CEP lookup service under test.
type Target struct {
	Scheme string
	Host   string
	Port   int
}

// DefaultTarget returns http://brasilcep-api:8080.
func DefaultTarget() Target {
	return Target{Scheme: DefaultScheme, Host: DefaultHost, Port: DefaultPort}
}

// ParseTarget reads a target from a URL such as "http://localhost:8080".
// A missing port defaults to 80 or 443 by scheme.
func ParseTarget(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("invalid target URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Target{}, fmt.Errorf("invalid target URL %q: scheme must be http or https", raw)
	}
	if u.Hostname() == "" {
		return Target{}, fmt.Errorf("invalid target URL %q: missing host", raw)
	}

	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return Target{}, fmt.Errorf("invalid target URL %q: bad port", raw)
		}
	}

	return Target{Scheme: u.Scheme, Host: u.Hostname(), Port: port}, nil
}

func (t Target) withDefaults() Target {
	if t.Scheme == "" {
		t.Scheme = DefaultScheme
	}
	if t.Host == "" {
		t.Host = DefaultHost
	}
	if t.Port == 0 {
		t.Port = DefaultPort
	}
	return t
}

// Origin returns scheme://host:port.
func (t Target) Origin() string {
	t = t.withDefaults()
	return fmt.Sprintf("%s://%s:%d", t.Scheme, t.Host, t.Port)
}

// BaseURL returns the lookup prefix, e.g. http://brasilcep-api:8080/cep/.
func (t Target) BaseURL() string {
	return t.Origin() + "/cep/"
}

// URL appends variant to BaseURL verbatim; a hyphen is never escaped.
func (t Target) URL(variant string) string {
	return t.BaseURL() + variant
}

// HealthURL returns the service health endpoint.
func (t Target) HealthURL() string {
	return t.Origin() + "/healthcheck"
}

// String implements fmt.Stringer.
func (t Target) String() string {
	return t.Origin()
}
