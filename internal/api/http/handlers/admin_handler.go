package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/issue-bridge/internal/api/dto"
	"github.com/spec-kit/issue-bridge/internal/domain"
	"github.com/spec-kit/issue-bridge/internal/service"
	apperrors "github.com/spec-kit/issue-bridge/pkg/util/errorutil"
)

// AdminHandler manages tenant configuration and queue operations.
type AdminHandler struct {
	service *service.AdminService
}

// NewAdminHandler constructs handler.
func NewAdminHandler(adminService *service.AdminService) *AdminHandler {
	return &AdminHandler{service: adminService}
}

// GetConfig GET /bridge/admin/tenants/:tenant_id/config.
func (h *AdminHandler) GetConfig(c *fiber.Ctx) error {
	cfg, err := h.service.GetConfig(c.UserContext(), c.Params("tenant_id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": configResponse(cfg)})
}

// PutConfig PUT /bridge/admin/tenants/:tenant_id/config.
func (h *AdminHandler) PutConfig(c *fiber.Ctx) error {
	var req dto.BridgeConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	cfg, err := h.service.PutConfig(c.UserContext(), c.Params("tenant_id"), service.ConfigInput{
		Enabled:                       req.Enabled,
		TriageModeEnabled:             req.TriageModeEnabled,
		AllowlistedTags:               req.AllowlistedTags,
		CircuitBreakerCooldownMinutes: req.CircuitBreakerCooldownMinutes,
		DefaultRouting:                req.DefaultRouting,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": configResponse(cfg)})
}

// ListRules GET /bridge/admin/tenants/:tenant_id/rules.
func (h *AdminHandler) ListRules(c *fiber.Ctx) error {
	rules, err := h.service.ListRules(c.UserContext(), c.Params("tenant_id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ruleResponses(rules)})
}

// ReplaceRules PUT /bridge/admin/tenants/:tenant_id/rules.
func (h *AdminHandler) ReplaceRules(c *fiber.Ctx) error {
	var req dto.ReplaceRulesRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	rules := make([]domain.RoutingRule, 0, len(req.Rules))
	for _, r := range req.Rules {
		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}
		rules = append(rules, domain.RoutingRule{
			ID:       r.ID,
			Name:     r.Name,
			Priority: r.Priority,
			Enabled:  enabled,
			Match:    r.Match,
			Target:   r.Target,
		})
	}
	saved, err := h.service.ReplaceRules(c.UserContext(), c.Params("tenant_id"), rules)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ruleResponses(saved)})
}

// TripBreaker POST /bridge/admin/tenants/:tenant_id/breaker/trip.
func (h *AdminHandler) TripBreaker(c *fiber.Ctx) error {
	var req dto.BreakerRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	cfg, err := h.service.TripBreaker(c.UserContext(), c.Params("tenant_id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": configResponse(cfg)})
}

// ResetBreaker POST /bridge/admin/tenants/:tenant_id/breaker/reset.
func (h *AdminHandler) ResetBreaker(c *fiber.Ctx) error {
	cfg, err := h.service.ResetBreaker(c.UserContext(), c.Params("tenant_id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": configResponse(cfg)})
}

// QueueStats GET /bridge/admin/tenants/:tenant_id/queue/stats.
func (h *AdminHandler) QueueStats(c *fiber.Ctx) error {
	stats, err := h.service.QueueStats(c.UserContext(), c.Params("tenant_id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": stats})
}

// DeadLetters GET /bridge/admin/tenants/:tenant_id/queue/dead-letters.
func (h *AdminHandler) DeadLetters(c *fiber.Ctx) error {
	items, err := h.service.DeadLetters(c.UserContext(), c.Params("tenant_id"), c.QueryInt("limit", 100))
	if err != nil {
		return err
	}
	out := make([]dto.QueueItemResponse, 0, len(items))
	for i := range items {
		out = append(out, queueItemResponse(&items[i]))
	}
	return c.JSON(fiber.Map{"data": out})
}

// Requeue POST /bridge/admin/queue/:id/requeue.
func (h *AdminHandler) Requeue(c *fiber.Ctx) error {
	if err := h.service.Requeue(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Metrics GET /bridge/admin/tenants/:tenant_id/metrics?from=YYYY-MM-DD&to=YYYY-MM-DD.
func (h *AdminHandler) Metrics(c *fiber.Ctx) error {
	from, err := parseDay(c.Query("from"))
	if err != nil {
		return apperrors.NewValidationError("invalid from", map[string]any{"expected": time.DateOnly})
	}
	to, err := parseDay(c.Query("to"))
	if err != nil {
		return apperrors.NewValidationError("invalid to", map[string]any{"expected": time.DateOnly})
	}
	rows, err := h.service.Metrics(c.UserContext(), c.Params("tenant_id"), from, to)
	if err != nil {
		return err
	}
	out := make([]dto.DailyMetricsResponse, 0, len(rows))
	for _, m := range rows {
		out = append(out, dto.DailyMetricsResponse{
			Day:                   m.Day.Format(time.DateOnly),
			TicketsCreated:        m.TicketsCreated,
			TicketsUpdated:        m.TicketsUpdated,
			Errors:                m.Errors,
			TotalProcessingTimeMs: m.TotalProcessingTimeMs,
		})
	}
	return c.JSON(fiber.Map{"data": out})
}

func parseDay(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, raw)
}

func configResponse(cfg *domain.BridgeConfig) dto.BridgeConfigResponse {
	return dto.BridgeConfigResponse{
		TenantID:                      cfg.TenantID,
		Enabled:                       cfg.Enabled,
		TriageModeEnabled:             cfg.TriageModeEnabled,
		AllowlistedTags:               cfg.AllowlistedTags,
		CircuitBreakerTrippedAt:       cfg.CircuitBreakerTrippedAt,
		CircuitBreakerCooldownMinutes: cfg.CircuitBreakerCooldownMinutes,
		DefaultRouting:                cfg.DefaultRouting,
		UpdatedAt:                     cfg.UpdatedAt,
	}
}

func ruleResponses(rules []domain.RoutingRule) []dto.RoutingRuleResponse {
	out := make([]dto.RoutingRuleResponse, 0, len(rules))
	for _, r := range rules {
		out = append(out, dto.RoutingRuleResponse{
			ID:        r.ID,
			Name:      r.Name,
			Priority:  r.Priority,
			Enabled:   r.Enabled,
			Match:     r.Match,
			Target:    r.Target,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return out
}

func queueItemResponse(item *domain.QueueItem) dto.QueueItemResponse {
	return dto.QueueItemResponse{
		ID:              item.ID,
		TenantID:        item.TenantID,
		IssueID:         item.IssueID,
		EventType:       item.EventType,
		TargetProjectID: item.TargetProjectID,
		Status:          item.Status,
		AttemptCount:    item.AttemptCount,
		MaxAttempts:     item.MaxAttempts,
		NextAttemptAt:   item.NextAttemptAt,
		LastError:       item.LastError,
		ResultRef:       item.ResultRef,
		CreatedAt:       item.CreatedAt,
		UpdatedAt:       item.UpdatedAt,
	}
}
