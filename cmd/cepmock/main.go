// Command cepmock serves a stand-in CEP lookup API for local load test runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brasilcep/cepbench/internal/logging"
	"github.com/brasilcep/cepbench/internal/mockapi"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cepmock",
		Short: "Serve a mock CEP lookup API",
		Long: `cepmock answers GET /cep/{cep} and GET /healthcheck like the BrasilCEP API.
With --metrics it also serves GET /metrics.

Modes:
  normalize    hyphens are stripped before the lookup (default)
  strict       codes are looked up verbatim; hyphenated codes are not found
  fail-hyphen  hyphenated codes answer 500`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}

	cmd.Flags().String("addr", ":8080", "Listen address")
	cmd.Flags().String("mode", string(mockapi.ModeNormalize), "normalize, strict or fail-hyphen")
	cmd.Flags().Duration("latency", 0, "Delay added to every lookup")
	cmd.Flags().Bool("metrics", false, "Serve request metrics on /metrics")
	cmd.Flags().String("log-level", "info", "Log level")
	cmd.Flags().String("log-format", logging.FormatJSON, "Log format: console or json")
	return cmd
}

func serve(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	modeName, _ := cmd.Flags().GetString("mode")
	latency, _ := cmd.Flags().GetDuration("latency")
	withMetrics, _ := cmd.Flags().GetBool("metrics")
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")

	mode, err := mockapi.ParseMode(modeName)
	if err != nil {
		return err
	}

	logger := logging.New(level, format)
	defer func() { _ = logger.Sync() }()

	api := mockapi.New(mockapi.Options{Mode: mode, Latency: latency, Logger: logger, Metrics: withMetrics})

	server := &http.Server{
		Addr:              addr,
		Handler:           api,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      latency + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.String("mode", string(mode)), zap.Duration("latency", latency))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("stopped", zap.Int64("lookups", api.Lookups()))
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
