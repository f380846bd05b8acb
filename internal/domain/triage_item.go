package domain

import "time"

// TriageStatus enumerates human decisions.
type TriageStatus string

const (
	TriageStatusPending  TriageStatus = "pending"
	TriageStatusApproved TriageStatus = "approved"
	TriageStatusRejected TriageStatus = "rejected"
	TriageStatusExpired  TriageStatus = "expired"
)

// TriageItem holds a formatted ticket awaiting approval. The payload and routing are fixed at
// creation; approval does not re-run routing.
type TriageItem struct {
	ID          string
	TenantID    string
	IssueID     string
	EventType   EventType
	Payload     CreatePayload
	Routing     RoutingTarget
	Status      TriageStatus
	DecidedBy   *string
	DecidedAt   *time.Time
	Reason      *string
	QueueItemID *string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}
