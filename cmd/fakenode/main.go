// Command fakenode answers GetAllSensorsData broadcasts like the sensor
// node does, for running the gateway without hardware.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"wotnode-gateway/internal/config"
	"wotnode-gateway/internal/fakenode"
	"wotnode-gateway/internal/logging"
)

const appName = "fakenode"

var version = "dev"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg, version, appName)

	addr := os.Getenv("FAKENODE_ADDR")
	if addr == "" {
		addr = ":" + strconv.Itoa(cfg.UDPRemotePort)
	}
	padding := 0
	if v := os.Getenv("FAKENODE_PADDING"); v != "" {
		if padding, err = strconv.Atoi(v); err != nil || padding < 0 {
			fmt.Fprintf(os.Stderr, "config error: invalid FAKENODE_PADDING %q\n", v)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := fakenode.Listen(ctx, fakenode.Options{
		Addr:    addr,
		Source:  fakenode.NewDrift(uint64(time.Now().UnixNano()), 10),
		Padding: padding,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("listen failed", "error", err)
		os.Exit(1)
	}
	logger.Info("fakenode listening", "addr", node.Addr().String(), "padding", padding)

	if err := node.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("serve failed", "error", err)
		os.Exit(1)
	}
	logger.Info("fakenode stopped", "requests", node.Requests())
}
