package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/brasilcep/cepbench/internal/version"
)

// execute runs the command line with args and returns the exit code and
// everything written to stdout and stderr.
func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)

	code := run(root, args)
	return code, stdout.String(), stderr.String()
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"failure", failure(errors.New("thresholds failed")), ExitFailed},
		{"usage", usageError("bad flag"), ExitUsage},
		{"wrapped failure", errors.Join(errors.New("context"), failure(errors.New("x"))), ExitFailed},
		{"cobra error", errors.New("unknown flag: --nope"), ExitUsage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if got := exitCode(tt.err, &buf); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
			if tt.err != nil && !strings.Contains(buf.String(), "Error: ") {
				t.Errorf("error should be reported, got %q", buf.String())
			}
			if tt.err == nil && buf.Len() != 0 {
				t.Errorf("nothing should be reported, got %q", buf.String())
			}
		})
	}
}

func TestVersionFlag(t *testing.T) {
	code, out, _ := execute(t, "--version")

	if code != ExitOK {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(out, version.Version) {
		t.Errorf("output %q should contain version %s", out, version.Version)
	}
}

func TestRootShowsHelp(t *testing.T) {
	code, out, _ := execute(t)

	if code != ExitOK {
		t.Fatalf("exit code = %d, want 0", code)
	}
	for _, sub := range []string{"run", "probe", "validate", "scenario"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help should list %q", sub)
		}
	}
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	code, _, stderr := execute(t, "run", "--nope")

	if code != ExitUsage {
		t.Errorf("exit code = %d, want %d", code, ExitUsage)
	}
	if !strings.Contains(stderr, "unknown flag") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestEnvName(t *testing.T) {
	if got := envName("wait-ready"); got != "CEPBENCH_WAIT_READY" {
		t.Errorf("envName() = %q", got)
	}
}
