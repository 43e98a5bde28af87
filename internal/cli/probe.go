package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/brasilcep/cepbench/internal/cep"
)

var errInconsistent = errors.New("variants did not resolve to the same postal code")

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Look up every variant once and compare the answers",
		Long: `Probe calls /healthcheck, then requests each postal code variant once and
prints status, latency and the returned address. It exits non-zero unless
every variant returned 200 for the same postal code.`,
		Args: cobra.NoArgs,
	}
	addTargetFlags(cmd)
	cmd.Flags().Bool("json", false, "Print the probe report as JSON")
	v := newViper(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		target, err := targetFrom(v)
		if err != nil {
			return err
		}

		client := cep.NewClient(target, cep.WithTimeout(v.GetDuration("timeout")))
		report, err := client.Probe(cmd.Context(), cep.DefaultVariants())
		if err != nil {
			return failure(err)
		}

		out := cmd.OutOrStdout()
		if v.GetBool("json") {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return failure(err)
			}
		} else {
			printProbeReport(out, report)
		}

		if !report.Consistent() {
			return failure(errInconsistent)
		}
		return nil
	}
	return cmd
}

func printProbeReport(w io.Writer, report *cep.ProbeReport) {
	fmt.Fprintf(w, "Target:  %s\n", report.Target)

	if h := report.Health; h != nil {
		if h.Error != "" {
			fmt.Fprintf(w, "Health:  %s %s\n", mark(false), h.Error)
		} else {
			detail := ""
			if h.State != "" {
				detail = fmt.Sprintf(" (%s", h.State)
				if h.Version != "" {
					detail += ", version " + h.Version
				}
				detail += ")"
			}
			fmt.Fprintf(w, "Health:  %s %d in %s%s\n", mark(h.OK()), h.Status, roundLatency(h.Latency), detail)
		}
	}
	fmt.Fprintln(w)

	for _, l := range report.Lookups {
		fmt.Fprintf(w, "  %s %-10s %3d %8s  %s\n", mark(l.OK()), l.Variant, l.Status, roundLatency(l.Latency), lookupDetail(l))
	}
	fmt.Fprintln(w)

	answer := "no"
	if report.Consistent() {
		answer = "yes"
	}
	fmt.Fprintf(w, "Variants consistent: %s\n", answer)
}

func lookupDetail(l *cep.LookupResult) string {
	switch {
	case l.Error != "":
		return l.Error
	case !l.OK():
		return l.Message
	}

	a := l.Address
	parts := make([]string, 0, 3)
	for _, p := range []string{a.Logradouro, a.Bairro} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	place := a.Cidade
	if a.UF != "" {
		place += "/" + a.UF
	}
	if place != "" {
		parts = append(parts, place)
	}
	return strings.TrimSpace(a.CEP + " " + strings.Join(parts, ", "))
}

func roundLatency(d time.Duration) time.Duration {
	if d > time.Millisecond {
		return d.Round(time.Millisecond)
	}
	return d.Round(time.Microsecond)
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}
