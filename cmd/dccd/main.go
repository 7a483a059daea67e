package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"dccgate/internal/config"
	"dccgate/internal/infra/logging"
)

func main() {
	cfg := config.FromEnv()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}
