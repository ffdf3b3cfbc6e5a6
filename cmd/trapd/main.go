// Command trapd is the main SNMP trap ingestion daemon binary.
//
// It loads YAML configuration from a settings file and a filter-group
// directory, builds the full pipeline, and runs until interrupted
// (SIGINT / SIGTERM).
//
// Usage:
//
//	trapd [flags]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nyan-/snmptrapd/pkg/trapd/app"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "trapd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, logLevel, logFmt, err := parseFlags()
	if err != nil {
		return err
	}

	logger, err := buildLogger(logLevel, logFmt)
	if err != nil {
		return err
	}

	cfg.PrometheusRegisterer = prometheus.DefaultRegisterer
	cfg.PrometheusGatherer = prometheus.DefaultGatherer

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	logger.Info("trapd: running — press Ctrl-C to stop")

	<-ctx.Done()
	logger.Info("trapd: received shutdown signal")

	application.Stop()
	return nil
}

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q (expected debug|info|warn|error)", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json|text)", format)
	}

	return slog.New(handler), nil
}
