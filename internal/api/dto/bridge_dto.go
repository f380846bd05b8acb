package dto

import (
	"time"

	"github.com/spec-kit/issue-bridge/internal/domain"
)

// BridgeConfigRequest payload for PUT config.
type BridgeConfigRequest struct {
	Enabled                       bool                  `json:"enabled"`
	TriageModeEnabled             bool                  `json:"triage_mode_enabled"`
	AllowlistedTags               []string              `json:"allowlisted_tags"`
	CircuitBreakerCooldownMinutes int                   `json:"circuit_breaker_cooldown_minutes"`
	DefaultRouting                *domain.RoutingTarget `json:"default_routing"`
}

// BridgeConfigResponse response.
type BridgeConfigResponse struct {
	TenantID                      string                `json:"tenant_id"`
	Enabled                       bool                  `json:"enabled"`
	TriageModeEnabled             bool                  `json:"triage_mode_enabled"`
	AllowlistedTags               []string              `json:"allowlisted_tags"`
	CircuitBreakerTrippedAt       *time.Time            `json:"circuit_breaker_tripped_at"`
	CircuitBreakerCooldownMinutes int                   `json:"circuit_breaker_cooldown_minutes"`
	DefaultRouting                *domain.RoutingTarget `json:"default_routing"`
	UpdatedAt                     time.Time             `json:"updated_at"`
}

// BreakerRequest payload for a manual trip.
type BreakerRequest struct {
	Reason string `json:"reason"`
}

// RoutingRuleRequest is one rule in a PUT rules body.
type RoutingRuleRequest struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Priority int                  `json:"priority"`
	Enabled  *bool                `json:"enabled"`
	Match    domain.RuleMatch     `json:"match"`
	Target   domain.RoutingTarget `json:"target"`
}

// ReplaceRulesRequest payload.
type ReplaceRulesRequest struct {
	Rules []RoutingRuleRequest `json:"rules"`
}

// RoutingRuleResponse response.
type RoutingRuleResponse struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Priority  int                  `json:"priority"`
	Enabled   bool                 `json:"enabled"`
	Match     domain.RuleMatch     `json:"match"`
	Target    domain.RoutingTarget `json:"target"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// TriageDecisionRequest payload for approve and reject.
type TriageDecisionRequest struct {
	Reason string `json:"reason"`
}

// TriageItemResponse response.
type TriageItemResponse struct {
	ID          string               `json:"id"`
	TenantID    string               `json:"tenant_id"`
	IssueID     string               `json:"issue_id"`
	EventType   domain.EventType     `json:"event_type"`
	Payload     domain.CreatePayload `json:"payload"`
	Routing     domain.RoutingTarget `json:"routing"`
	Status      domain.TriageStatus  `json:"status"`
	DecidedBy   *string              `json:"decided_by"`
	DecidedAt   *time.Time           `json:"decided_at"`
	Reason      *string              `json:"reason"`
	QueueItemID *string              `json:"queue_item_id"`
	ExpiresAt   time.Time            `json:"expires_at"`
	CreatedAt   time.Time            `json:"created_at"`
}

// QueueItemResponse response.
type QueueItemResponse struct {
	ID              string             `json:"id"`
	TenantID        string             `json:"tenant_id"`
	IssueID         string             `json:"issue_id"`
	EventType       domain.EventType   `json:"event_type"`
	TargetProjectID string             `json:"target_project_id"`
	Status          domain.QueueStatus `json:"status"`
	AttemptCount    int                `json:"attempt_count"`
	MaxAttempts     int                `json:"max_attempts"`
	NextAttemptAt   time.Time          `json:"next_attempt_at"`
	LastError       *string            `json:"last_error"`
	ResultRef       *string            `json:"result_ref"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// DailyMetricsResponse response.
type DailyMetricsResponse struct {
	Day                   string `json:"day"`
	TicketsCreated        int64  `json:"tickets_created"`
	TicketsUpdated        int64  `json:"tickets_updated"`
	Errors                int64  `json:"errors"`
	TotalProcessingTimeMs int64  `json:"total_processing_time_ms"`
}
