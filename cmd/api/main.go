package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/issue-bridge/internal/api/http"
	"github.com/spec-kit/issue-bridge/internal/api/http/handlers"
	"github.com/spec-kit/issue-bridge/internal/auth"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise bridge", zap.Error(err))
	}
	defer bridge.Close()

	if cfg.Queue.InProcessWorker {
		go worker.NewRunner(bridge.Processor, cfg.Queue.WorkerInterval(), logger).Start(ctx)
	}

	metrics := observability.NewMetrics()
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLMinutes)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, bridge.Pingers, metrics),
		Webhook:        handlers.NewWebhookHandler(bridge.Webhook),
		Worker:         handlers.NewWorkerHandler(bridge.Processor),
		Triage:         handlers.NewTriageHandler(bridge.Triage),
		Admin:          handlers.NewAdminHandler(bridge.Admin),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
