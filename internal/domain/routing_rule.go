package domain

import "time"

// RoutingTarget is where a ticket lands.
type RoutingTarget struct {
	ProjectID string          `json:"projectId"`
	OwnerID   *string         `json:"ownerId,omitempty"`
	Priority  *TicketPriority `json:"priority,omitempty"`
}

// RuleMatch is the predicate half of a rule. Populated fields are ANDed; empty ones match anything.
type RuleMatch struct {
	ProjectSlugs   []string          `json:"projectSlugs,omitempty"`
	Environments   []string          `json:"environments,omitempty"`
	Levels         []string          `json:"levels,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	TitleContains  string            `json:"titleContains,omitempty"`
	TitlePattern   string            `json:"titlePattern,omitempty"`
	CulpritPattern string            `json:"culpritPattern,omitempty"`
}

// RoutingRule maps a predicate to a destination. Lower Priority is evaluated first.
type RoutingRule struct {
	ID        string
	TenantID  string
	Name      string
	Priority  int
	Enabled   bool
	Match     RuleMatch
	Target    RoutingTarget
	CreatedAt time.Time
	UpdatedAt time.Time
}
