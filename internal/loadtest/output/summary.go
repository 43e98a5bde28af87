package output

import (
	"fmt"
	"sort"
	"time"

	"github.com/brasilcep/cepbench/internal/loadtest/engine"
)

// PrintSummary prints the end-of-run report. In quiet mode only PASSED or
// FAILED is printed.
func (c *ConsoleOutput) PrintSummary(result *engine.TestResult) {
	ok := result.Passed && result.Error == nil
	if c.quiet {
		if ok {
			c.println(c.colors.good.Sprint("PASSED"))
		} else {
			c.println(c.colors.bad.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	status := c.colors.good.Sprint("Completed ✓")
	if result.Error != nil {
		status = c.colors.bad.Sprint("Aborted ✗")
	} else if !result.Passed {
		status = c.colors.bad.Sprint("Failed ✗")
	}

	c.println("")
	c.printRule()
	c.println(c.colors.title.Sprint(result.Name) + " - " + status)
	c.printRule()
	c.println("")

	c.printTotals(result)
	c.printChecks(result)
	c.printLatency(result)
	c.printThresholds(result)

	if result.Error != nil {
		c.println(fmt.Sprintf("%s %v", c.colors.bad.Sprint("Error:"), result.Error))
		c.println("")
	}
}

func (c *ConsoleOutput) field(label, value string) {
	c.println(fmt.Sprintf("%-14s %s", label+":", value))
}

func (c *ConsoleOutput) printTotals(result *engine.TestResult) {
	p := c.colors
	if result.RunID != "" {
		c.field("Run ID", p.dim.Sprint(result.RunID))
	}
	c.field("Duration", p.value.Sprint(formatDuration(result.Duration)))

	if m := result.Metrics; m != nil {
		success := 1.0
		if m.TotalRequests > 0 {
			success -= m.ErrorRate
		}
		c.field("Iterations", p.value.Sprint(formatNumber(m.Iterations)))
		c.field("Total Reqs", p.value.Sprint(formatNumber(m.TotalRequests)))
		c.field("RPS", p.value.Sprintf("%.1f", m.RPS))
		c.field("Success Rate", p.rate(success).Sprintf("%.1f%%", success*100))
		c.field("Data Received", p.value.Sprint(formatBytes(m.TotalBytes)))
	}

	if len(result.Scenarios) > 1 {
		names := make([]string, 0, len(result.Scenarios))
		for name := range result.Scenarios {
			names = append(names, name)
		}
		sort.Strings(names)

		c.println(p.title.Sprint("Scenarios:"))
		for _, name := range names {
			s := result.Scenarios[name]
			c.println(fmt.Sprintf("  %s %s %s iterations in %s",
				padRight(name, 24), p.dim.Sprint(s.Executor), formatNumber(s.Iterations), formatDuration(s.Duration)))
		}
	}

	interrupted := 0
	for _, s := range result.Scenarios {
		if s != nil {
			interrupted += s.InterruptedVUs
		}
	}
	if interrupted > 0 {
		c.field("Interrupted", p.warn.Sprintf("%d VUs (graceful stop expired)", interrupted))
	}
	c.println("")
}

func (c *ConsoleOutput) printChecks(result *engine.TestResult) {
	if len(result.Checks) == 0 {
		return
	}
	p := c.colors
	c.println(p.title.Sprint("Checks:"))
	for _, check := range result.Checks {
		rate := check.Rate()
		c.println(fmt.Sprintf("  %s %s %s %s",
			p.mark(check.Fails == 0),
			padRight(check.Name, 24),
			p.rate(rate).Sprintf("%6.2f%%", rate*100),
			p.dim.Sprintf("(%d/%d)", check.Passes, check.Total())))
	}
	c.println("")
}

func (c *ConsoleOutput) printLatency(result *engine.TestResult) {
	if result.Metrics == nil {
		return
	}
	lat := result.Metrics.Latency
	c.println(c.colors.title.Sprint("Latency Distribution:"))
	for _, row := range []struct {
		label string
		v     time.Duration
	}{
		{"Min", lat.Min}, {"Avg", lat.Mean}, {"P50", lat.P50}, {"P90", lat.P90},
		{"P95", lat.P95}, {"P99", lat.P99}, {"Max", lat.Max},
	} {
		c.println(fmt.Sprintf("  %-10s %s", row.label+":", formatDurationShort(row.v)))
	}
	c.println("")
}

func (c *ConsoleOutput) printThresholds(result *engine.TestResult) {
	if len(result.Thresholds) == 0 {
		return
	}
	c.println(c.colors.title.Sprint("Thresholds:"))
	for _, t := range result.Thresholds {
		c.println(fmt.Sprintf("  %s %s %s (actual: %s)", c.colors.mark(t.Passed), t.Metric, t.Expression, t.Value))
	}
	c.println("")
}
