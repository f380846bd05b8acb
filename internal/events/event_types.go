package events

import (
	"time"

	"github.com/spec-kit/issue-bridge/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated    EventType = "ticket_created"
	EventTicketUpdated    EventType = "ticket_updated"
	EventItemDeadLettered EventType = "queue_item_dead_lettered"
	EventTriageQueued     EventType = "triage_queued"
	EventTriageDecided    EventType = "triage_decided"
	EventBreakerTripped   EventType = "circuit_breaker_tripped"
	EventBreakerReset     EventType = "circuit_breaker_reset"
)

// Event represents a bridge event emitted by services and the worker.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TenantID  string    `json:"tenant_id"`
	IssueID   string    `json:"issue_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	TicketID  string                `json:"ticket_id"`
	TicketURL string                `json:"ticket_url"`
	ProjectID string                `json:"project_id"`
	Priority  domain.TicketPriority `json:"priority"`
}

// TicketUpdatedPayload payload.
type TicketUpdatedPayload struct {
	TicketID string              `json:"ticket_id"`
	Action   domain.Action       `json:"action"`
	Status   domain.TicketStatus `json:"status"`
}

// ItemDeadLetteredPayload payload.
type ItemDeadLetteredPayload struct {
	QueueItemID  string `json:"queue_item_id"`
	AttemptCount int    `json:"attempt_count"`
	LastError    string `json:"last_error"`
}

// TriagePayload payload.
type TriagePayload struct {
	TriageItemID string              `json:"triage_item_id"`
	Status       domain.TriageStatus `json:"status"`
	DecidedBy    string              `json:"decided_by,omitempty"`
}

// BreakerPayload payload.
type BreakerPayload struct {
	Reason  string     `json:"reason"`
	RetryAt *time.Time `json:"retry_at,omitempty"`
}
