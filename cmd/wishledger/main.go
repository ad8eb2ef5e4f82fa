// Command wishledger is the wish ledger daemon.
//
//	wishledger -config config.toml              # mode from the file
//	wishledger -config config.toml -mode migrate
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/wishledger/internal/app"
	"github.com/alanyoungcy/wishledger/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("wishledger", flag.ContinueOnError)
	configPath := fs.String("config", "config.toml", "TOML config file; empty means defaults plus environment")
	mode := fs.String("mode", "", "override the configured mode (serve, archive, migrate)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// The level is only known after the config loads.
	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", slog.String("path", *configPath), slog.String("error", err.Error()))
		return 1
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		logger.Warn("log_level not recognised, using info", slog.String("log_level", cfg.LogLevel))
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("wishledger starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)
	defer application.Close()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("wishledger failed", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "wishledger: %v\n", err)
		return 1
	}
	logger.Info("wishledger stopped")
	return 0
}
