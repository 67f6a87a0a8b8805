// Command budgetctl runs the ingestion pipelines once and prints the results.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"presupuesto/cmd/budgetctl/commands"
	"presupuesto/internal/cli"
	"presupuesto/internal/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli.LoadEnvFile()
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}

	// Diagnostics go to stderr so stdout stays machine-readable.
	level := cfg.SlogLevel()
	if level < slog.LevelWarn && os.Getenv("LOG_LEVEL") == "" {
		level = slog.LevelWarn
	}
	logger := cli.SetupLogger(log.ComponentCLI, level, os.Stderr)

	rt, err := cli.Bootstrap(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}

	if err := commands.New(rt.Engine).Execute(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
