package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/spec-kit/issue-bridge/internal/bootstrap"
	"github.com/spec-kit/issue-bridge/internal/config"
	"github.com/spec-kit/issue-bridge/internal/observability"
	"github.com/spec-kit/issue-bridge/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bridge, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise bridge", zap.Error(err))
	}
	defer bridge.Close()

	logger.Info("worker started", zap.Duration("interval", cfg.Queue.WorkerInterval()))
	worker.NewRunner(bridge.Processor, cfg.Queue.WorkerInterval(), logger).Start(ctx)
	logger.Info("worker stopped")
}
