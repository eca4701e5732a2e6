package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	opennotes "github.com/opennotes-ai/opennotes-sub009"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	interval := flag.Duration("interval", 0, "rerun the batch every interval; 0 runs once and exits")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("OPENNOTES_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	// Logs go to stderr; stdout carries the run reports.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, *interval); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger, interval time.Duration) error {
	engine, err := opennotes.New(
		opennotes.WithLogger(logger),
		opennotes.WithVersion(version),
	)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	enc := json.NewEncoder(os.Stdout)

	for {
		report, err := engine.RunBatch(ctx)
		if err != nil {
			// A shutdown signal aborts the run mid-batch; notes already
			// written stay written, so this is a clean exit.
			if ctx.Err() != nil {
				logger.Info("batch run interrupted by shutdown signal")
				return nil
			}
			return err
		}
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}

		if interval <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}
