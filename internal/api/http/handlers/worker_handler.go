package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/issue-bridge/internal/worker"
	apperrors "github.com/spec-kit/issue-bridge/pkg/util/errorutil"
)

// BatchRunner runs one worker batch.
type BatchRunner interface {
	Run(ctx context.Context) (worker.Result, error)
}

// WorkerHandler exposes the cron trigger.
type WorkerHandler struct {
	runner BatchRunner
}

// NewWorkerHandler constructs handler.
func NewWorkerHandler(runner BatchRunner) *WorkerHandler {
	return &WorkerHandler{runner: runner}
}

// Trigger POST /bridge/worker. The batch outlives a disconnecting caller.
func (h *WorkerHandler) Trigger(c *fiber.Ctx) error {
	result, err := h.runner.Run(context.WithoutCancel(c.UserContext()))
	if err != nil {
		return &apperrors.DomainError{
			Code:       apperrors.CodeInternal,
			Message:    "worker run failed",
			HTTPStatus: http.StatusInternalServerError,
			Details:    map[string]any{"error": err.Error()},
			Err:        err,
		}
	}
	return c.JSON(result)
}
