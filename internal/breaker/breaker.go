// Package breaker implements the per-tenant circuit breaker gate.
package breaker

import (
	"sync"
	"time"

	"github.com/spec-kit/issue-bridge/internal/domain"
)

// ReasonActive is reported while a tenant's breaker is open.
const ReasonActive = "circuit breaker active"

// Decision is the outcome of a gate check.
type Decision struct {
	Open    bool
	Reason  string
	RetryAt time.Time
}

// Gate reads trip state persisted on BridgeConfig.
type Gate struct{}

func NewGate() *Gate {
	return &Gate{}
}

// Check reports whether cfg's breaker is open at now.
func (g *Gate) Check(cfg *domain.BridgeConfig, now time.Time) Decision {
	if cfg == nil || cfg.CircuitBreakerTrippedAt == nil {
		return Decision{}
	}
	retryAt := cfg.CircuitBreakerTrippedAt.Add(cfg.Cooldown())
	if now.Before(retryAt) {
		return Decision{Open: true, Reason: ReasonActive, RetryAt: retryAt}
	}
	return Decision{}
}

// Trip opens the breaker on cfg at now.
func (g *Gate) Trip(cfg *domain.BridgeConfig, now time.Time) {
	at := now.UTC()
	cfg.CircuitBreakerTrippedAt = &at
}

// Reset closes the breaker immediately.
func (g *Gate) Reset(cfg *domain.BridgeConfig) {
	cfg.CircuitBreakerTrippedAt = nil
}

// FailureTracker counts downstream failures per tenant during one worker run.
type FailureTracker struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
}

// NewFailureTracker returns a tracker that fires once a tenant reaches threshold failures.
// A threshold of zero never fires.
func NewFailureTracker(threshold int) *FailureTracker {
	return &FailureTracker{threshold: threshold, counts: make(map[string]int)}
}

// Record adds a failure and reports whether tenantID just crossed the threshold.
func (t *FailureTracker) Record(tenantID string) bool {
	if t.threshold <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[tenantID]++
	return t.counts[tenantID] == t.threshold
}
