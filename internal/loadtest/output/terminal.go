package output

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

type fdWriter interface {
	Fd() uintptr
}

// isTerminal reports whether w writes to a terminal, including Cygwin and
// MSYS pseudo terminals.
func isTerminal(w io.Writer) bool {
	f, ok := w.(fdWriter)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// supportsColors follows the NO_COLOR and FORCE_COLOR conventions before
// falling back to TERM.
func supportsColors() bool {
	switch {
	case os.Getenv("NO_COLOR") != "":
		return false
	case os.Getenv("FORCE_COLOR") != "":
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}
