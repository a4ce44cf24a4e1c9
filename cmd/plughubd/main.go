// Package main is the entrypoint for the plughub license server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"plughub/internal/app"
	"plughub/internal/config"
	"plughub/internal/infrastructure"
)

func main() {
	if err := run(); err != nil {
		slog.Error("license server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := infrastructure.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	ctx := context.Background()
	server, err := app.NewServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
