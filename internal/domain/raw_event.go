package domain

import (
	"encoding/json"
	"time"
)

// RawEventStatus tracks how far an inbound delivery got.
type RawEventStatus string

const (
	RawEventStatusReceived   RawEventStatus = "received"
	RawEventStatusProcessing RawEventStatus = "processing"
	RawEventStatusProcessed  RawEventStatus = "processed"
	RawEventStatusSkipped    RawEventStatus = "skipped"
)

// RawWebhookEvent is the dedupe record for one delivery, unique on (TenantID, SourceEventID).
type RawWebhookEvent struct {
	ID            string
	TenantID      string
	SourceEventID string
	EventType     EventType
	IssueID       string
	Payload       json.RawMessage
	Status        RawEventStatus
	SkipReason    *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
