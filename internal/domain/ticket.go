package domain

import "strings"

// TicketPriority enumerates urgency tiers in the downstream tracker.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityUrgent TicketPriority = "URGENT"
)

// HighestPriority is the tier forced on regressions.
const HighestPriority = TicketPriorityUrgent

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityUrgent:
		return true
	}
	return false
}

// ParseTicketPriority normalizes user input such as "high" into a priority.
func ParseTicketPriority(s string) (TicketPriority, bool) {
	p := TicketPriority(strings.ToUpper(strings.TrimSpace(s)))
	return p, p.Valid()
}

// TicketType classifies created tickets.
type TicketType string

const (
	TicketTypeBug TicketType = "bug"
)

// TicketStatus is the state requested on a lifecycle update.
type TicketStatus string

const (
	TicketStatusResolved TicketStatus = "RESOLVED"
	TicketStatusReopened TicketStatus = "REOPENED"
)

// Ticket is the reference returned by the tracker after creation.
type Ticket struct {
	ID  string
	URL string
}

// TicketPatch describes an update sent to an existing ticket.
type TicketPatch struct {
	Status   *TicketStatus
	Priority *TicketPriority
	Comment  string
}
