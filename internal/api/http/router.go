package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/issue-bridge/internal/api/http/handlers"
	"github.com/spec-kit/issue-bridge/internal/auth"
	"github.com/spec-kit/issue-bridge/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Webhook        *handlers.WebhookHandler
	Worker         *handlers.WorkerHandler
	Triage         *handlers.TriageHandler
	Admin          *handlers.AdminHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	bridge := app.Group("/bridge")
	bridge.Post("/webhook", cfg.Webhook.Receive)

	bridge.Post("/worker", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.ServiceRoleWorker), cfg.Worker.Trigger)

	triage := bridge.Group("/triage", cfg.AuthMiddleware.Handle, auth.RequireRole())
	triage.Get("/", cfg.Triage.List)
	triage.Post("/:id/approve", cfg.Triage.Approve)
	triage.Post("/:id/reject", cfg.Triage.Reject)

	admin := bridge.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireRole())
	admin.Get("/stats", cfg.Health.Stats)
	admin.Post("/queue/:id/requeue", cfg.Admin.Requeue)

	tenant := admin.Group("/tenants/:tenant_id")
	tenant.Get("/config", cfg.Admin.GetConfig)
	tenant.Put("/config", cfg.Admin.PutConfig)
	tenant.Get("/rules", cfg.Admin.ListRules)
	tenant.Put("/rules", cfg.Admin.ReplaceRules)
	tenant.Post("/breaker/trip", cfg.Admin.TripBreaker)
	tenant.Post("/breaker/reset", cfg.Admin.ResetBreaker)
	tenant.Get("/queue/stats", cfg.Admin.QueueStats)
	tenant.Get("/queue/dead-letters", cfg.Admin.DeadLetters)
	tenant.Get("/metrics", cfg.Admin.Metrics)
}
