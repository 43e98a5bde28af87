// Package executor decides how many VUs run, for how long and how their
// iterations are paced.
package executor

import (
	"context"
	"math/rand"
	"time"

	"github.com/brasilcep/cepbench/internal/loadtest"
	"github.com/brasilcep/cepbench/internal/loadtest/config"
	"github.com/brasilcep/cepbench/internal/loadtest/metrics"
)

// Type names an executor.
type Type string

const (
	// TypeConstantVUs keeps VUs looping until Duration elapses.
	TypeConstantVUs Type = "constant-vus"

	// TypePerVUIterations has every VU run Iterations iterations and exit.
	TypePerVUIterations Type = "per-vu-iterations"
)

// DefaultGracefulStop bounds how long in-flight iterations may run once no
// new iterations are started.
const DefaultGracefulStop = 30 * time.Second

// DefaultMaxDuration bounds a per-vu-iterations run without a duration.
const DefaultMaxDuration = 10 * time.Minute

// Executor drives the VUs of one scenario.
type Executor interface {
	Type() Type

	// Init is called once before Run.
	Init(ctx context.Context, cfg *Config) error

	// Run blocks until the executor is done. Cancelling ctx aborts
	// in-flight iterations.
	Run(ctx context.Context, scheduler *loadtest.VUScheduler, m *metrics.Engine) error

	// GetProgress returns progress in [0, 1].
	GetProgress() float64

	GetActiveVUs() int

	GetStats() *Stats

	// Stop starts no new iterations and waits for in-flight ones, bounded
	// by the graceful stop period.
	Stop(ctx context.Context) error
}

// Config is the parsed form of a scenario's executor settings.
type Config struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`
	VUs  int    `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration is the window in which iterations start. For
	// per-vu-iterations it only caps the run.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	Iterations int64 `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// GracefulStop is how long in-flight iterations may finish once
	// Duration elapsed; after it their requests are cancelled. Zero means
	// DefaultGracefulStop.
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`
}

// PacingType names a pacing strategy.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

// PacingConfig is the pause a VU takes after every iteration.
type PacingConfig struct {
	Type     PacingType    `json:"type" yaml:"type"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Min      time.Duration `json:"min,omitempty" yaml:"min,omitempty"`
	Max      time.Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// Wait returns the pause after an iteration. Random pacing draws from
// [Min, Max) with the VU's own source.
func (p *PacingConfig) Wait(rng *rand.Rand) time.Duration {
	if p == nil {
		return 0
	}

	switch p.Type {
	case PacingConstant:
		return p.Duration
	case PacingRandom:
		spread := p.Max - p.Min
		if spread <= 0 || rng == nil {
			return p.Min
		}
		return p.Min + time.Duration(rng.Int63n(int64(spread)))
	default:
		return 0
	}
}

// Stats is a live view of an executor.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	Iterations      int64 `json:"iterations"`
	TotalIterations int64 `json:"totalIterations"`

	// InterruptedVUs counts VUs whose iteration was cancelled when the
	// graceful stop period ran out.
	InterruptedVUs int `json:"interruptedVUs"`
}

func invalid(field, msg string) error {
	return &config.ValidationError{Field: field, Message: msg}
}

// Validate checks the fields the executor type needs.
func (c *Config) Validate() error {
	switch c.Type {
	case "":
		return invalid("type", "executor type is required")
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return invalid("vus", "vus must be > 0")
		}
		if c.Duration <= 0 {
			return invalid("duration", "duration must be > 0")
		}
	case TypePerVUIterations:
		if c.VUs <= 0 {
			return invalid("vus", "vus must be > 0")
		}
		if c.Iterations <= 0 {
			return invalid("iterations", "iterations must be > 0")
		}
		if c.Duration < 0 {
			return invalid("duration", "duration cannot be negative")
		}
	default:
		return invalid("type", "unknown executor type: "+string(c.Type))
	}

	if c.GracefulStop < 0 {
		return invalid("gracefulStop", "gracefulStop cannot be negative")
	}

	if p := c.Pacing; p != nil {
		switch p.Type {
		case PacingNone, PacingConstant:
		case PacingRandom:
			if p.Min > p.Max {
				return invalid("pacing", "min must be <= max")
			}
		default:
			return invalid("pacing.type", "unknown pacing type: "+string(p.Type))
		}
	}
	return nil
}

// TotalDuration returns the window in which iterations start, or 0 when
// the run length depends on iteration counts.
func (c *Config) TotalDuration() time.Duration {
	if c.Type == TypeConstantVUs {
		return c.Duration
	}
	return 0
}

func (c *Config) gracefulStop() time.Duration {
	if c.GracefulStop == 0 {
		return DefaultGracefulStop
	}
	return c.GracefulStop
}
