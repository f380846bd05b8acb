package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/issue-bridge/internal/api/dto"
	"github.com/spec-kit/issue-bridge/internal/auth"
	"github.com/spec-kit/issue-bridge/internal/domain"
	"github.com/spec-kit/issue-bridge/internal/service"
	apperrors "github.com/spec-kit/issue-bridge/pkg/util/errorutil"
)

// TriageHandler exposes manual approval of held tickets.
type TriageHandler struct {
	service *service.TriageService
}

// NewTriageHandler constructs handler.
func NewTriageHandler(triageService *service.TriageService) *TriageHandler {
	return &TriageHandler{service: triageService}
}

// List GET /bridge/triage.
func (h *TriageHandler) List(c *fiber.Ctx) error {
	items, err := h.service.List(c.UserContext(), service.TriageListInput{
		TenantID: c.Query("tenant_id"),
		Status:   c.Query("status"),
		Limit:    c.QueryInt("limit", 50),
	})
	if err != nil {
		return err
	}
	out := make([]dto.TriageItemResponse, 0, len(items))
	for i := range items {
		out = append(out, triageResponse(&items[i]))
	}
	return c.JSON(fiber.Map{"data": out})
}

// Approve POST /bridge/triage/:id/approve.
func (h *TriageHandler) Approve(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	item, err := h.service.Approve(c.UserContext(), c.Params("id"), principal.SubjectID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": triageResponse(item)})
}

// Reject POST /bridge/triage/:id/reject.
func (h *TriageHandler) Reject(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.TriageDecisionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	item, err := h.service.Reject(c.UserContext(), c.Params("id"), principal.SubjectID, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": triageResponse(item)})
}

func triageResponse(item *domain.TriageItem) dto.TriageItemResponse {
	return dto.TriageItemResponse{
		ID:          item.ID,
		TenantID:    item.TenantID,
		IssueID:     item.IssueID,
		EventType:   item.EventType,
		Payload:     item.Payload,
		Routing:     item.Routing,
		Status:      item.Status,
		DecidedBy:   item.DecidedBy,
		DecidedAt:   item.DecidedAt,
		Reason:      item.Reason,
		QueueItemID: item.QueueItemID,
		ExpiresAt:   item.ExpiresAt,
		CreatedAt:   item.CreatedAt,
	}
}
