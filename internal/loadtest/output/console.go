// Package output renders load test progress and results: a live console
// view, the final summary and a JSON document.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/brasilcep/cepbench/internal/loadtest/metrics"
)

const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	rule           = "━"
	progressFilled = "█"
	progressEmpty  = "░"

	ruleWidth = 56
	boxWidth  = 55
)

// LiveStats is one frame of the live view. Rates are in [0, 1].
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64
	ChecksRate    float64

	LatencyP90 time.Duration
	LatencyAvg time.Duration

	CurrentPhase string
}

// StatsFromMetrics builds a frame from a snapshot. Remaining is derived
// from totalDuration when known, otherwise extrapolated from progress.
func StatsFromMetrics(snapshot *metrics.Snapshot, progress float64, totalDuration time.Duration, targetVUs int) *LiveStats {
	if snapshot == nil {
		return &LiveStats{Progress: progress, TargetVUs: targetVUs, CurrentPhase: "initializing"}
	}

	var remaining time.Duration
	switch {
	case totalDuration > 0:
		remaining = max(totalDuration-snapshot.Elapsed, 0)
	case progress > 0 && progress < 1:
		remaining = time.Duration(float64(snapshot.Elapsed) * (1 - progress) / progress)
	}

	return &LiveStats{
		Progress:      progress,
		Elapsed:       snapshot.Elapsed,
		Remaining:     remaining,
		ActiveVUs:     snapshot.ActiveVUs,
		TargetVUs:     targetVUs,
		CurrentRPS:    snapshot.RPS,
		TotalRequests: snapshot.TotalRequests,
		Errors:        snapshot.FailedRequests,
		ErrorRate:     snapshot.ErrorRate,
		ChecksRate:    snapshot.Checks.Rate(),
		LatencyP90:    snapshot.Latency.P90,
		LatencyAvg:    snapshot.Latency.Mean,
		CurrentPhase:  string(snapshot.CurrentPhase),
	}
}

// ConsoleOutputConfig configures a ConsoleOutput. NoColor wins over
// ForceColors; ForceTTY enables in-place redraws on any writer.
type ConsoleOutputConfig struct {
	TestName       string
	ExecutorType   string
	TotalDuration  time.Duration
	UpdateInterval time.Duration
	Writer         io.Writer
	Quiet          bool
	ForceColors    bool
	ForceTTY       bool
	NoColor        bool
}

// ConsoleOutput prints the run header, live frames and the summary. On a
// terminal each frame replaces the previous one; elsewhere frames are
// appended as single lines so logs stay readable.
type ConsoleOutput struct {
	testName       string
	executorType   string
	totalDuration  time.Duration
	updateInterval time.Duration
	quiet          bool

	w      io.Writer
	isTTY  bool
	colors *palette

	mu        sync.Mutex
	liveLines int
}

func NewConsoleOutput(cfg ConsoleOutputConfig) *ConsoleOutput {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	interval := cfg.UpdateInterval
	if interval <= 0 {
		interval = time.Second
	}

	tty := cfg.ForceTTY || isTerminal(w)
	colored := !cfg.NoColor && (cfg.ForceColors || (tty && supportsColors()))

	return &ConsoleOutput{
		testName:       cfg.TestName,
		executorType:   cfg.ExecutorType,
		totalDuration:  cfg.TotalDuration,
		updateInterval: interval,
		quiet:          cfg.Quiet,
		w:              w,
		isTTY:          tty,
		colors:         newPalette(colored),
	}
}

func (c *ConsoleOutput) IsTTY() bool { return c.isTTY }

func (c *ConsoleOutput) UpdateInterval() time.Duration { return c.updateInterval }

func (c *ConsoleOutput) PrintHeader() {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	title := c.testName + " - Running"
	if c.executorType != "" {
		title += " [" + c.executorType + "]"
	}

	c.printRule()
	c.println(c.colors.title.Sprint(title))
	if c.totalDuration > 0 {
		c.println(c.colors.dim.Sprint("duration " + formatDuration(c.totalDuration)))
	}
	c.printRule()
	c.println("")
}

// Update shows stats as the current frame.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet {
		return
	}
	if !c.isTTY {
		c.PrintNonInteractiveUpdate(stats)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()
	frame := c.renderLiveStats(stats)
	for _, line := range frame {
		c.println(line)
	}
	c.liveLines = len(frame)
}

// PrintNonInteractiveUpdate appends stats as one status line.
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.w, "[%s] Progress: %.0f%% | VUs: %d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | Checks: %.1f%% | P90: %s\n",
		formatDuration(stats.Elapsed), stats.Progress*100,
		stats.ActiveVUs, stats.TotalRequests, stats.CurrentRPS,
		stats.Errors, stats.ErrorRate*100, stats.ChecksRate*100,
		formatDurationShort(stats.LatencyP90))
}

// clearLive erases the last frame. Callers hold c.mu.
func (c *ConsoleOutput) clearLive() {
	if c.liveLines == 0 {
		return
	}
	up := fmt.Sprintf(cursorUp, c.liveLines)
	fmt.Fprint(c.w, up+strings.Repeat(clearLine+"\n", c.liveLines)+up)
	c.liveLines = 0
}

func (c *ConsoleOutput) renderLiveStats(s *LiveStats) []string {
	p := c.colors
	errColor := p.rate(1 - s.ErrorRate)

	lines := []string{
		fmt.Sprintf("Progress: %s %s | %s",
			p.good.Sprint(c.renderProgressBar(s.Progress, 40)),
			p.title.Sprintf("%.0f%%", s.Progress*100),
			p.dim.Sprintf("%s / %s", formatDuration(s.Elapsed), formatDuration(s.Elapsed+s.Remaining))),
		"Phase:    " + p.phase.Sprint(s.CurrentPhase),
		"",
		p.dim.Sprint("┌" + strings.Repeat(rule, boxWidth-2) + "┐"),
	}

	cells := [][2]string{
		{
			fmt.Sprintf("VUs:     %s / %d", p.value.Sprint(s.ActiveVUs), s.TargetVUs),
			"Requests:    " + p.value.Sprint(formatNumber(s.TotalRequests)),
		},
		{
			"RPS:     " + p.good.Sprintf("%.1f", s.CurrentRPS),
			fmt.Sprintf("Errors:      %s (%s)", errColor.Sprint(s.Errors), errColor.Sprintf("%.1f%%", s.ErrorRate*100)),
		},
		{
			"P90:     " + p.latency.Sprint(formatDurationShort(s.LatencyP90)),
			"Checks:      " + p.rate(s.ChecksRate).Sprintf("%.1f%%", s.ChecksRate*100),
		},
	}
	for _, row := range cells {
		lines = append(lines, c.boxRow(row[0], row[1]))
	}

	return append(lines, p.dim.Sprint("└"+strings.Repeat(rule, boxWidth-2)+"┘"))
}

// boxRow lays out two cells between box borders. Cell widths ignore color
// codes.
func (c *ConsoleOutput) boxRow(left, right string) string {
	col := (boxWidth - 4) / 2
	pad := func(s string) string {
		return s + strings.Repeat(" ", max(col-len([]rune(stripANSI(s))), 0))
	}
	bar := c.colors.dim.Sprint("│")
	return bar + " " + pad(left) + bar + " " + pad(right) + " " + bar
}

func (c *ConsoleOutput) renderProgressBar(progress float64, width int) string {
	filled := int(clamp01(progress) * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

func (c *ConsoleOutput) printRule() {
	c.println(c.colors.rule.Sprint(strings.Repeat(rule, ruleWidth)))
}

func (c *ConsoleOutput) println(s string) {
	fmt.Fprintln(c.w, s)
}
