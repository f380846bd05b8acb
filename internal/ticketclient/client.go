// Package ticketclient talks to the downstream work tracker.
package ticketclient

import (
	"context"

	"github.com/spec-kit/issue-bridge/internal/domain"
)

// Client creates and updates tickets. Every error is treated as retryable by the worker.
type Client interface {
	Create(ctx context.Context, payload domain.CreatePayload, projectID string, ownerID *string) (domain.Ticket, error)
	Update(ctx context.Context, ticketID string, patch domain.TicketPatch) error
}
