// Package ticketclienttest provides an in-memory ticket client for tests.
package ticketclienttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/spec-kit/issue-bridge/internal/domain"
)

// CreateCall records one Create invocation.
type CreateCall struct {
	Payload   domain.CreatePayload
	ProjectID string
	OwnerID   *string
}

// UpdateCall records one Update invocation.
type UpdateCall struct {
	TicketID string
	Patch    domain.TicketPatch
}

// Fake records calls and answers from its function fields when set.
type Fake struct {
	CreateFunc func(ctx context.Context, payload domain.CreatePayload, projectID string, ownerID *string) (domain.Ticket, error)
	UpdateFunc func(ctx context.Context, ticketID string, patch domain.TicketPatch) error

	mu      sync.Mutex
	creates []CreateCall
	updates []UpdateCall
}

func (f *Fake) Create(ctx context.Context, payload domain.CreatePayload, projectID string, ownerID *string) (domain.Ticket, error) {
	f.mu.Lock()
	f.creates = append(f.creates, CreateCall{Payload: payload, ProjectID: projectID, OwnerID: ownerID})
	n := len(f.creates)
	f.mu.Unlock()

	if f.CreateFunc != nil {
		return f.CreateFunc(ctx, payload, projectID, ownerID)
	}
	return domain.Ticket{
		ID:  fmt.Sprintf("%s#%d", projectID, n),
		URL: fmt.Sprintf("https://tracker.example/%s/issues/%d", projectID, n),
	}, nil
}

func (f *Fake) Update(ctx context.Context, ticketID string, patch domain.TicketPatch) error {
	f.mu.Lock()
	f.updates = append(f.updates, UpdateCall{TicketID: ticketID, Patch: patch})
	f.mu.Unlock()

	if f.UpdateFunc != nil {
		return f.UpdateFunc(ctx, ticketID, patch)
	}
	return nil
}

// Creates returns a copy of the recorded Create calls.
func (f *Fake) Creates() []CreateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CreateCall(nil), f.creates...)
}

// Updates returns a copy of the recorded Update calls.
func (f *Fake) Updates() []UpdateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]UpdateCall(nil), f.updates...)
}
