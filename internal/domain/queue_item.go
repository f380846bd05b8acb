package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// QueueStatus is the work item state machine:
// pending -> processing -> {completed | pending (retry) | dead_lettered}.
type QueueStatus string

const (
	QueueStatusPending      QueueStatus = "pending"
	QueueStatusProcessing   QueueStatus = "processing"
	QueueStatusCompleted    QueueStatus = "completed"
	QueueStatusFailed       QueueStatus = "failed"
	QueueStatusDeadLettered QueueStatus = "dead_lettered"
)

// Terminal reports whether no further transition is possible.
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusDeadLettered
}

// CreatePayload is the formatted ticket body.
type CreatePayload struct {
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Priority       TicketPriority `json:"priority"`
	Type           TicketType     `json:"type"`
	Tags           []Tag          `json:"tags,omitempty"`
	Permalink      string         `json:"permalink,omitempty"`
	SimilarityHash string         `json:"similarityHash,omitempty"`
}

// TransitionPayload updates an existing ticket.
type TransitionPayload struct {
	TicketID string          `json:"ticketId"`
	Status   TicketStatus    `json:"status"`
	Priority *TicketPriority `json:"priority,omitempty"`
	Release  string          `json:"release,omitempty"`
	Comment  string          `json:"comment,omitempty"`
}

// WorkPayload is the tagged union carried through the queue. Exactly the variant matching
// Action is set.
type WorkPayload struct {
	Action     Action             `json:"action"`
	Create     *CreatePayload     `json:"create,omitempty"`
	Transition *TransitionPayload `json:"transition,omitempty"`
}

var ErrInvalidPayload = errors.New("invalid work payload")

// Validate checks the variant matches the action and required fields are present.
func (p WorkPayload) Validate() error {
	switch p.Action {
	case ActionCreate:
		if p.Create == nil || p.Transition != nil {
			return fmt.Errorf("%w: %s requires only a create variant", ErrInvalidPayload, p.Action)
		}
		if strings.TrimSpace(p.Create.Title) == "" {
			return fmt.Errorf("%w: title required", ErrInvalidPayload)
		}
		if !p.Create.Priority.Valid() {
			return fmt.Errorf("%w: priority %q", ErrInvalidPayload, p.Create.Priority)
		}
	case ActionResolve, ActionUnresolve, ActionRegression:
		if p.Transition == nil || p.Create != nil {
			return fmt.Errorf("%w: %s requires only a transition variant", ErrInvalidPayload, p.Action)
		}
		if p.Transition.TicketID == "" {
			return fmt.Errorf("%w: ticket id required", ErrInvalidPayload)
		}
		if want, _ := p.Action.TicketStatus(); p.Transition.Status != want {
			return fmt.Errorf("%w: status %q does not match %s", ErrInvalidPayload, p.Transition.Status, p.Action)
		}
		if p.Action == ActionRegression && (p.Transition.Priority == nil || *p.Transition.Priority != HighestPriority) {
			return fmt.Errorf("%w: regression must escalate priority", ErrInvalidPayload)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidPayload, p.Action)
	}
	return nil
}

// QueueItem is one unit of durable work.
type QueueItem struct {
	ID              string
	TenantID        string
	IssueID         string
	EventType       EventType
	TargetProjectID string
	TargetOwnerID   *string
	Payload         WorkPayload
	Status          QueueStatus
	AttemptCount    int
	MaxAttempts     int
	NextAttemptAt   time.Time
	LockedBy        *string
	LockedUntil     *time.Time
	LastError       *string
	ResultRef       *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// NewQueueItem is the input for enqueueing.
type NewQueueItem struct {
	TenantID        string
	IssueID         string
	EventType       EventType
	TargetProjectID string
	TargetOwnerID   *string
	Payload         WorkPayload
	MaxAttempts     int
}

// QueueFailure is the state a failed attempt moves an item to.
type QueueFailure struct {
	Status        QueueStatus
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     string
}

// QueueStats counts items per status for one tenant.
type QueueStats map[QueueStatus]int64
