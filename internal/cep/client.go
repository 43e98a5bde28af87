package cep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/brasilcep/cepbench/internal/version"
)

// maxBodySize bounds how much of a response the client reads.
const maxBodySize = 1 << 20

// ErrNotReady is returned by WaitReady when the target never answered its
// health check with 200.
var ErrNotReady = errors.New("target not ready")

// Client talks to the CEP service outside of a load test run.
type Client struct {
	httpClient *http.Client
	target     Target
	logger     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout on a copy of the HTTP client,
// leaving one passed to WithHTTPClient untouched.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		hc := *c.httpClient
		hc.Timeout = timeout
		c.httpClient = &hc
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for target.
func NewClient(target Target, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		target:     target,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Target returns the service the client talks to.
func (c *Client) Target() Target {
	return c.target
}

// Address holds the fields of a lookup response shown by probe.
type Address struct {
	CEP        string `json:"cep"`
	Logradouro string `json:"logradouro"`
	Bairro     string `json:"bairro"`
	Cidade     string `json:"cidade"`
	UF         string `json:"uf"`
}

// LookupResult is the outcome of one GET /cep/{variant}.
type LookupResult struct {
	Variant string        `json:"variant"`
	URL     string        `json:"url"`
	Status  int           `json:"status"`
	Latency time.Duration `json:"latency"`
	Address Address       `json:"address"`
	Message string        `json:"message,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// OK reports whether the lookup returned 200.
func (r *LookupResult) OK() bool {
	return r.Error == "" && r.Status == http.StatusOK
}

// Lookup resolves one variant. Transport failures are returned as errors;
// any HTTP status is a result.
func (c *Client) Lookup(ctx context.Context, variant string) (*LookupResult, error) {
	res := &LookupResult{Variant: variant, URL: c.target.URL(variant)}

	status, body, latency, err := c.get(ctx, res.URL)
	res.Latency = latency
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	res.Status = status

	fields := gjson.GetManyBytes(body, "cep", "logradouro", "bairro", "cidade", "uf", "error")
	res.Address = Address{
		CEP:        fields[0].String(),
		Logradouro: fields[1].String(),
		Bairro:     fields[2].String(),
		Cidade:     fields[3].String(),
		UF:         fields[4].String(),
	}
	res.Message = fields[5].String()

	c.logger.Debug("lookup",
		zap.String("url", res.URL),
		zap.Int("status", status),
		zap.Duration("latency", latency))

	return res, nil
}

// HealthResult is the outcome of GET /healthcheck.
type HealthResult struct {
	URL     string        `json:"url"`
	Status  int           `json:"status"`
	Latency time.Duration `json:"latency"`
	State   string        `json:"state,omitempty"`
	Version string        `json:"version,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// OK reports whether the health check returned 200.
func (h *HealthResult) OK() bool {
	return h.Error == "" && h.Status == http.StatusOK
}

// Health calls the target's health endpoint.
func (c *Client) Health(ctx context.Context) (*HealthResult, error) {
	res := &HealthResult{URL: c.target.HealthURL()}

	status, body, latency, err := c.get(ctx, res.URL)
	res.Latency = latency
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	res.Status = status
	res.State = gjson.GetBytes(body, "status").String()
	res.Version = gjson.GetBytes(body, "version").String()
	return res, nil
}

// WaitReady polls the health endpoint every interval until it returns 200,
// ctx is done or timeout elapses.
func (c *Client) WaitReady(ctx context.Context, timeout, interval time.Duration) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for attempt := 1; ; attempt++ {
		h, err := c.Health(ctx)
		switch {
		case err == nil && h.OK():
			c.logger.Info("target ready", zap.String("target", c.target.String()), zap.Int("attempts", attempt))
			return nil
		case err != nil:
			// Keep the previous reason when the deadline cut this attempt short.
			if ctx.Err() == nil || last == "" {
				last = err.Error()
			}
		default:
			last = fmt.Sprintf("status %d", h.Status)
		}
		c.logger.Debug("target not ready", zap.Int("attempt", attempt), zap.String("reason", last))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %s: %s", ErrNotReady, timeout, last)
		case <-ticker.C:
		}
	}
}

// ProbeReport is the result of Probe.
type ProbeReport struct {
	Target  string          `json:"target"`
	Health  *HealthResult   `json:"health"`
	Lookups []*LookupResult `json:"lookups"`
}

// Consistent reports whether every variant returned 200 and resolved to
// the same postal code.
func (p *ProbeReport) Consistent() bool {
	if len(p.Lookups) == 0 {
		return false
	}

	code := ""
	for i, l := range p.Lookups {
		if !l.OK() {
			return false
		}
		got := Normalize(l.Address.CEP)
		if got == "" {
			return false
		}
		if i == 0 {
			code = got
		} else if got != code {
			return false
		}
	}
	return true
}

// Probe checks the health endpoint and looks up every variant once.
// Per-request failures are recorded in the report; only ctx errors abort.
func (c *Client) Probe(ctx context.Context, variants *VariantSet) (*ProbeReport, error) {
	report := &ProbeReport{Target: c.target.String()}

	report.Health, _ = c.Health(ctx)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	for _, v := range variants.Variants() {
		res, _ := c.Lookup(ctx, v)
		report.Lookups = append(report.Lookups, res)
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (c *Client) get(ctx context.Context, url string) (int, []byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, time.Since(start), err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	latency := time.Since(start)
	if err != nil {
		return resp.StatusCode, nil, latency, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, latency, nil
}
