package output

import "github.com/fatih/color"

// palette holds the colors of the console report.
type palette struct {
	title   *color.Color
	rule    *color.Color
	value   *color.Color
	good    *color.Color
	warn    *color.Color
	bad     *color.Color
	latency *color.Color
	phase   *color.Color
	dim     *color.Color
}

// newPalette returns the report colors; with enabled false every color
// prints plain text regardless of the global color.NoColor setting.
func newPalette(enabled bool) *palette {
	p := &palette{
		title:   color.New(color.Bold),
		rule:    color.New(color.FgCyan),
		value:   color.New(color.FgCyan),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed),
		latency: color.New(color.FgBlue),
		phase:   color.New(color.FgMagenta),
		dim:     color.New(color.Faint),
	}

	for _, c := range []*color.Color{p.title, p.rule, p.value, p.good, p.warn, p.bad, p.latency, p.phase, p.dim} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// rate picks good, warn or bad for a success ratio.
func (p *palette) rate(r float64) *color.Color {
	switch {
	case r >= 0.99:
		return p.good
	case r >= 0.95:
		return p.warn
	default:
		return p.bad
	}
}

func (p *palette) mark(ok bool) string {
	if ok {
		return p.good.Sprint("✓")
	}
	return p.bad.Sprint("✗")
}
