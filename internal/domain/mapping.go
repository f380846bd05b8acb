package domain

import "time"

// SyncStatus is the last known state pushed to the ticket.
type SyncStatus string

const (
	SyncStatusSynced     SyncStatus = "synced"
	SyncStatusResolved   SyncStatus = "resolved"
	SyncStatusRegression SyncStatus = "regression"
)

// IssueTicketMapping is the idempotency ledger row for one issue.
type IssueTicketMapping struct {
	TenantID     string
	IssueID      string
	TicketID     string
	TicketURL    string
	SyncStatus   SyncStatus
	LastSyncedAt time.Time
	CreatedAt    time.Time
}
