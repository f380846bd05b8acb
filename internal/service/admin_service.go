package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/issue-bridge/internal/breaker"
	"github.com/spec-kit/issue-bridge/internal/domain"
	"github.com/spec-kit/issue-bridge/internal/events"
	"github.com/spec-kit/issue-bridge/internal/queue"
	"github.com/spec-kit/issue-bridge/internal/repository"
	"github.com/spec-kit/issue-bridge/internal/routing"
	apperrors "github.com/spec-kit/issue-bridge/pkg/util/errorutil"
)

// maxMetricsRange bounds the metrics query window.
const maxMetricsRange = 366 * 24 * time.Hour

// AdminService manages tenant configuration, routing rules, breaker state and the queue.
type AdminService struct {
	store      repository.Store
	queue      *queue.Queue
	gate       *breaker.Gate
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// AdminDependencies bundles collaborators for the admin service.
type AdminDependencies struct {
	Store      repository.Store
	Queue      *queue.Queue
	Gate       *breaker.Gate
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Now        func() time.Time
}

// ConfigInput is the writable part of a BridgeConfig.
type ConfigInput struct {
	Enabled                       bool
	TriageModeEnabled             bool
	AllowlistedTags               []string
	CircuitBreakerCooldownMinutes int
	DefaultRouting                *domain.RoutingTarget
}

// NewAdminService constructs the service.
func NewAdminService(deps AdminDependencies) *AdminService {
	if deps.Gate == nil {
		deps.Gate = breaker.NewGate()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &AdminService{
		store:      deps.Store,
		queue:      deps.Queue,
		gate:       deps.Gate,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		now:        deps.Now,
	}
}

// GetConfig returns a tenant's bridge configuration.
func (s *AdminService) GetConfig(ctx context.Context, tenantID string) (*domain.BridgeConfig, error) {
	cfg, err := s.store.Repos().Configs.Get(ctx, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("bridge config", map[string]any{"tenantId": tenantID})
	}
	return cfg, err
}

// PutConfig creates or replaces a tenant's configuration. Breaker state is preserved.
func (s *AdminService) PutConfig(ctx context.Context, tenantID string, input ConfigInput) (*domain.BridgeConfig, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, apperrors.NewValidationError("tenant_id is required", nil)
	}
	if input.CircuitBreakerCooldownMinutes < 0 {
		return nil, apperrors.NewValidationError("cooldown must not be negative", nil)
	}
	if input.DefaultRouting != nil {
		if err := validateTarget(*input.DefaultRouting); err != nil {
			return nil, err
		}
	}

	var saved *domain.BridgeConfig
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		cfg := &domain.BridgeConfig{TenantID: tenantID}
		existing, err := repos.Configs.Get(ctx, tenantID)
		switch {
		case err == nil:
			cfg.CircuitBreakerTrippedAt = existing.CircuitBreakerTrippedAt
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}
		cfg.Enabled = input.Enabled
		cfg.TriageModeEnabled = input.TriageModeEnabled
		cfg.AllowlistedTags = normalizeTags(input.AllowlistedTags)
		cfg.CircuitBreakerCooldownMinutes = input.CircuitBreakerCooldownMinutes
		if cfg.CircuitBreakerCooldownMinutes == 0 {
			cfg.CircuitBreakerCooldownMinutes = domain.DefaultCooldownMinutes
		}
		cfg.DefaultRouting = input.DefaultRouting
		if err := repos.Configs.Upsert(ctx, cfg); err != nil {
			return err
		}
		saved = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("bridge config saved", zap.String("tenant_id", tenantID), zap.Bool("enabled", saved.Enabled))
	return saved, nil
}

// ListRules returns a tenant's routing rules in evaluation order.
func (s *AdminService) ListRules(ctx context.Context, tenantID string) ([]domain.RoutingRule, error) {
	rules, err := s.store.Repos().Rules.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return routing.Ordered(rules), nil
}

// ReplaceRules swaps the whole rule set atomically after validating every rule.
func (s *AdminService) ReplaceRules(ctx context.Context, tenantID string, rules []domain.RoutingRule) ([]domain.RoutingRule, error) {
	for i, rule := range rules {
		if strings.TrimSpace(rule.Name) == "" {
			return nil, apperrors.NewValidationError("rule name is required", map[string]any{"index": i})
		}
		if err := validateTarget(rule.Target); err != nil {
			return nil, err
		}
		for field, pattern := range map[string]string{
			"titlePattern":   rule.Match.TitlePattern,
			"culpritPattern": rule.Match.CulpritPattern,
		} {
			if err := routing.ValidatePattern(pattern); err != nil {
				return nil, apperrors.NewValidationError("invalid pattern", map[string]any{
					"index": i,
					"field": field,
					"error": err.Error(),
				})
			}
		}
	}

	var saved []domain.RoutingRule
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		if _, err := repos.Configs.Get(ctx, tenantID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NewNotFound("bridge config", map[string]any{"tenantId": tenantID})
			}
			return err
		}
		out, err := repos.Rules.ReplaceForTenant(ctx, tenantID, rules)
		if err != nil {
			return err
		}
		saved = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return routing.Ordered(saved), nil
}

// TripBreaker opens a tenant's breaker now.
func (s *AdminService) TripBreaker(ctx context.Context, tenantID, reason string) (*domain.BridgeConfig, error) {
	cfg, err := s.GetConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	s.gate.Trip(cfg, s.now())
	if err := s.store.Repos().Configs.SetBreaker(ctx, tenantID, cfg.CircuitBreakerTrippedAt); err != nil {
		return nil, fmt.Errorf("trip breaker: %w", err)
	}
	retryAt := cfg.CircuitBreakerTrippedAt.Add(cfg.Cooldown())
	if reason == "" {
		reason = "manual trip"
	}
	s.logger.Warn("circuit breaker tripped", zap.String("tenant_id", tenantID), zap.String("reason", reason))
	s.publish(ctx, events.Event{
		Type:     events.EventBreakerTripped,
		TenantID: tenantID,
		Payload:  events.BreakerPayload{Reason: reason, RetryAt: &retryAt},
	})
	return cfg, nil
}

// ResetBreaker closes a tenant's breaker immediately.
func (s *AdminService) ResetBreaker(ctx context.Context, tenantID string) (*domain.BridgeConfig, error) {
	cfg, err := s.GetConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	s.gate.Reset(cfg)
	if err := s.store.Repos().Configs.SetBreaker(ctx, tenantID, nil); err != nil {
		return nil, fmt.Errorf("reset breaker: %w", err)
	}
	s.logger.Info("circuit breaker reset", zap.String("tenant_id", tenantID))
	s.publish(ctx, events.Event{
		Type:     events.EventBreakerReset,
		TenantID: tenantID,
		Payload:  events.BreakerPayload{Reason: "manual reset"},
	})
	return cfg, nil
}

// QueueStats counts a tenant's queue items per status.
func (s *AdminService) QueueStats(ctx context.Context, tenantID string) (domain.QueueStats, error) {
	return s.queue.Stats(ctx, tenantID)
}

// DeadLetters lists a tenant's dead-lettered items.
func (s *AdminService) DeadLetters(ctx context.Context, tenantID string, limit int) ([]domain.QueueItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.queue.ListDeadLettered(ctx, tenantID, limit)
}

// Requeue gives a dead-lettered item a fresh attempt budget.
func (s *AdminService) Requeue(ctx context.Context, id string) error {
	err := s.queue.Requeue(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("dead-lettered queue item", map[string]any{"id": id})
	}
	if errors.Is(err, repository.ErrDuplicate) {
		return apperrors.NewConflict("ticket creation already queued", map[string]any{"id": id})
	}
	return err
}

// Metrics returns daily counters in [from, to], both truncated to UTC days.
func (s *AdminService) Metrics(ctx context.Context, tenantID string, from, to time.Time) ([]domain.DailyMetrics, error) {
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	from, to = repository.Day(from), repository.Day(to)
	if to.Before(from) {
		return nil, apperrors.NewValidationError("from must not be after to", nil)
	}
	if to.Sub(from) > maxMetricsRange {
		return nil, apperrors.NewValidationError("metrics range too large", map[string]any{"maxDays": 366})
	}
	return s.store.Repos().Metrics.Range(ctx, tenantID, from, to)
}

func (s *AdminService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func validateTarget(target domain.RoutingTarget) error {
	if strings.TrimSpace(target.ProjectID) == "" {
		return apperrors.NewValidationError("routing target project is required", nil)
	}
	if target.Priority != nil && !target.Priority.Valid() {
		return apperrors.NewValidationError("invalid routing priority", map[string]any{"priority": *target.Priority})
	}
	return nil
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
