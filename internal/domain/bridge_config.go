package domain

import "time"

// BridgeConfig is the per-tenant switchboard read on every inbound delivery.
type BridgeConfig struct {
	TenantID                      string
	Enabled                       bool
	TriageModeEnabled             bool
	AllowlistedTags               []string
	CircuitBreakerTrippedAt       *time.Time
	CircuitBreakerCooldownMinutes int
	DefaultRouting                *RoutingTarget
	CreatedAt                     time.Time
	UpdatedAt                     time.Time
}

// DefaultCooldownMinutes applies when a tenant has no explicit cooldown.
const DefaultCooldownMinutes = 30

// Cooldown returns the breaker cooldown as a duration.
func (c *BridgeConfig) Cooldown() time.Duration {
	minutes := c.CircuitBreakerCooldownMinutes
	if minutes <= 0 {
		minutes = DefaultCooldownMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// TagAllowed reports whether a tag key may reach the tracker.
func (c *BridgeConfig) TagAllowed(key string) bool {
	for _, allowed := range c.AllowlistedTags {
		if allowed == key {
			return true
		}
	}
	return false
}
