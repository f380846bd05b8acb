// Package bootstrap assembles the bridge from configuration. The API server and the standalone
// worker share it so both run against the same store, queue and ticket client.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/issue-bridge/internal/api/http/handlers"
	"github.com/spec-kit/issue-bridge/internal/breaker"
	"github.com/spec-kit/issue-bridge/internal/config"
	"github.com/spec-kit/issue-bridge/internal/events"
	"github.com/spec-kit/issue-bridge/internal/persistence"
	"github.com/spec-kit/issue-bridge/internal/queue"
	"github.com/spec-kit/issue-bridge/internal/ratelimit"
	"github.com/spec-kit/issue-bridge/internal/repository"
	"github.com/spec-kit/issue-bridge/internal/repository/memory"
	"github.com/spec-kit/issue-bridge/internal/service"
	"github.com/spec-kit/issue-bridge/internal/signature"
	"github.com/spec-kit/issue-bridge/internal/ticketclient"
	"github.com/spec-kit/issue-bridge/internal/worker"
)

// Bridge holds the wired services.
type Bridge struct {
	Store     repository.Store
	Webhook   *service.WebhookService
	Triage    *service.TriageService
	Admin     *service.AdminService
	Processor *worker.Processor
	// Pingers are the dependencies checked by the readiness probe.
	Pingers map[string]handlers.Pinger

	pg    *persistence.Postgres
	redis *persistence.Redis
}

// New connects infrastructure and builds the services. Without a Postgres DSN the bridge runs
// on the in-memory store, and without Redis the rate limiter is disabled.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Bridge, error) {
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting postgres: %w", err)
	}

	b := &Bridge{pg: pg, Pingers: map[string]handlers.Pinger{}}
	if pg.Configured() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.Pool, persistence.DefaultMigrationsDir, logger); err != nil {
				pg.Close()
				return nil, fmt.Errorf("running migrations: %w", err)
			}
		}
		b.Store = repository.NewPostgresStore(pg.Pool)
	} else {
		logger.Warn("using in-memory store; state is lost on restart")
		b.Store = memory.NewStore()
	}
	b.Pingers["store"] = b.Store

	b.redis = persistence.NewRedis(ctx, cfg.Redis, logger)
	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if b.redis.Configured() {
		limiter = ratelimit.NewSlidingWindow(b.redis.Client, cfg.RateLimit.Requests, cfg.RateLimit.Window(), logger)
		b.Pingers["redis"] = b.redis
	}

	client, err := ticketclient.NewGitLab(cfg.Tracker.BaseURL, cfg.Tracker.Token, cfg.Tracker.Timeout(), logger)
	if err != nil {
		b.Close()
		return nil, err
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	service.NewNotificationService(dispatcher, logger, cfg.Notification).RegisterHandlers()

	q := queue.New(b.Store.Repos().Queue, queue.Options{
		MaxAttempts: cfg.Queue.MaxAttempts,
		Retry:       queue.NewRetryPolicy(cfg.Queue.BackoffBase(), cfg.Queue.BackoffCap()),
	})
	gate := breaker.NewGate()

	b.Triage = service.NewTriageService(service.TriageDependencies{
		Store:      b.Store,
		Queue:      q,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	b.Admin = service.NewAdminService(service.AdminDependencies{
		Store:      b.Store,
		Queue:      q,
		Gate:       gate,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	b.Webhook = service.NewWebhookService(service.WebhookDependencies{
		Store:      b.Store,
		Queue:      q,
		Verifier:   signature.NewVerifier(cfg.Webhook.SigningSecret, cfg.Webhook.FreshnessWindow()),
		Limiter:    limiter,
		Gate:       gate,
		Dispatcher: dispatcher,
		Logger:     logger,
		TriageTTL:  cfg.Queue.TriageTTL(),
	})
	b.Processor = worker.NewProcessor(worker.Dependencies{
		Store:      b.Store,
		Queue:      q,
		Client:     client,
		Triage:     b.Triage,
		Breaker:    b.Admin,
		Dispatcher: dispatcher,
		Logger:     logger,
	}, worker.Options{
		BatchSize:     cfg.Queue.BatchSize,
		Concurrency:   cfg.Queue.WorkerConcurrency,
		Lease:         cfg.Queue.Lease(),
		TripThreshold: cfg.Breaker.TripThreshold,
	})

	return b, nil
}

// Close releases connections.
func (b *Bridge) Close() {
	b.redis.Close()
	b.pg.Close()
}
