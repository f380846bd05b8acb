package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/issue-bridge/internal/service"
)

// Inbound delivery headers.
const (
	HeaderTimestamp    = "X-Proxy-Timestamp"
	HeaderSignature    = "X-Proxy-Signature"
	HeaderHookResource = "X-Source-Hook-Resource"
)

// WebhookHandler receives monitoring deliveries.
type WebhookHandler struct {
	service *service.WebhookService
}

// NewWebhookHandler constructs handler.
func NewWebhookHandler(webhookService *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{service: webhookService}
}

// Receive POST /bridge/webhook.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	// fasthttp reuses the body buffer after the handler returns.
	body := append([]byte(nil), c.Body()...)

	result, err := h.service.Receive(c.UserContext(), service.WebhookRequest{
		TenantID:  c.Query("tenant_id"),
		Timestamp: c.Get(HeaderTimestamp),
		Signature: c.Get(HeaderSignature),
		Resource:  c.Get(HeaderHookResource),
		Body:      body,
	})
	if err != nil {
		return err
	}
	return c.JSON(result)
}
