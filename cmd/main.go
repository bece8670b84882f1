package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"wotnode-gateway/internal/app"
	"wotnode-gateway/internal/config"
	"wotnode-gateway/internal/logging"
)

var version = "dev"

const appName = "wotnode-gateway"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(appName, version)
		return
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)
	logger.Info("starting",
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
		"node_id", cfg.NodeID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = app.Run(ctx, cfg, logger)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("gateway stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}
