package output

import (
	"context"
	"time"

	"github.com/brasilcep/cepbench/internal/loadtest/metrics"
)

// StatsSource is what Watch polls; *engine.Engine satisfies it.
type StatsSource interface {
	GetMetrics() *metrics.Snapshot
	GetProgress() float64
}

// Watch refreshes the console from src every update interval until ctx is
// done.
func (c *ConsoleOutput) Watch(ctx context.Context, src StatsSource, targetVUs int) {
	if c.quiet {
		return
	}

	ticker := time.NewTicker(c.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Update(StatsFromMetrics(src.GetMetrics(), src.GetProgress(), c.totalDuration, targetVUs))
		}
	}
}
