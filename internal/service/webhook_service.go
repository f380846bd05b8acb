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
	"github.com/spec-kit/issue-bridge/internal/formatter"
	"github.com/spec-kit/issue-bridge/internal/queue"
	"github.com/spec-kit/issue-bridge/internal/ratelimit"
	"github.com/spec-kit/issue-bridge/internal/repository"
	"github.com/spec-kit/issue-bridge/internal/routing"
	"github.com/spec-kit/issue-bridge/internal/signature"
	apperrors "github.com/spec-kit/issue-bridge/pkg/util/errorutil"
)

// Response actions reported to the sender.
const (
	ResultSkipped           = "skipped"
	ResultQueued            = "queued"
	ResultTriageQueued      = "triage_queued"
	ResultDuplicateCreation = "duplicate_creation"
)

// Skip reasons.
const (
	ReasonUnsupportedEvent = "unsupported event type"
	ReasonNoRoute          = "no matching routing rule"
	ReasonNoMapping        = "no ticket mapping"
	ReasonTriagePending    = "triage already pending"
	ReasonBridgeDisabled   = "bridge disabled"
)

// WebhookRequest is one inbound delivery as read off the wire.
type WebhookRequest struct {
	TenantID  string
	Timestamp string
	Signature string
	Resource  string
	Body      []byte
}

// WebhookResult is the 200 response body.
type WebhookResult struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
	IssueID string `json:"issueId,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// WebhookService accepts monitoring deliveries and turns them into queued work.
type WebhookService struct {
	store      repository.Store
	queue      *queue.Queue
	verifier   *signature.Verifier
	limiter    ratelimit.Limiter
	gate       *breaker.Gate
	dispatcher events.Dispatcher
	logger     *zap.Logger
	triageTTL  time.Duration
	now        func() time.Time
}

// WebhookDependencies bundles collaborators for the webhook service.
type WebhookDependencies struct {
	Store      repository.Store
	Queue      *queue.Queue
	Verifier   *signature.Verifier
	Limiter    ratelimit.Limiter
	Gate       *breaker.Gate
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	TriageTTL  time.Duration
	Now        func() time.Time
}

// NewWebhookService constructs the service.
func NewWebhookService(deps WebhookDependencies) *WebhookService {
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.Unlimited{}
	}
	if deps.Gate == nil {
		deps.Gate = breaker.NewGate()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.TriageTTL <= 0 {
		deps.TriageTTL = 72 * time.Hour
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &WebhookService{
		store:      deps.Store,
		queue:      deps.Queue,
		verifier:   deps.Verifier,
		limiter:    deps.Limiter,
		gate:       deps.Gate,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		triageTTL:  deps.TriageTTL,
		now:        deps.Now,
	}
}

// Receive authenticates and processes a delivery. Business-logic skips come back as a
// successful result; only authentication, validation, unknown tenants and infrastructure
// failures are returned as errors.
func (s *WebhookService) Receive(ctx context.Context, req WebhookRequest) (WebhookResult, error) {
	if s.verifier != nil {
		if err := s.verifier.Verify(req.Timestamp, req.Signature, req.Body); err != nil {
			return WebhookResult{}, err
		}
	}

	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return WebhookResult{}, apperrors.NewValidationError("tenant_id is required", nil)
	}

	event, err := ParseIssueEvent(req.Resource, req.Body)
	if err != nil {
		return WebhookResult{}, err
	}

	logger := s.logger.With(
		zap.String("tenant_id", tenantID),
		zap.String("issue_id", event.IssueID),
		zap.String("event_type", string(event.EventType)),
	)

	cfg, err := s.store.Repos().Configs.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return WebhookResult{}, apperrors.NewNotFound("bridge config", map[string]any{"tenantId": tenantID})
		}
		return WebhookResult{}, fmt.Errorf("load bridge config: %w", err)
	}

	if err := s.admit(ctx, cfg, event); err != nil {
		return skipResult(event, err)
	}

	var result WebhookResult
	err = s.store.WithTx(ctx, func(repos repository.Repositories) error {
		res, err := s.process(ctx, repos, cfg, event)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		var domainErr *apperrors.DomainError
		if errors.As(err, &domainErr) && domainErr.Skip() {
			logger.Info("webhook skipped", zap.String("reason", domainErr.Message))
			return skipResult(event, err)
		}
		logger.Error("webhook processing failed", zap.Error(err))
		return WebhookResult{}, err
	}

	logger.Info("webhook processed", zap.String("action", result.Action), zap.String("reason", result.Reason))
	if result.Action == ResultTriageQueued {
		s.publish(ctx, events.Event{
			Type:     events.EventTriageQueued,
			TenantID: tenantID,
			IssueID:  event.IssueID,
			Payload:  events.TriagePayload{Status: domain.TriageStatusPending},
		})
	}
	return result, nil
}

// admit runs the checks that need no transaction, in order: bridge enabled, supported event
// type, circuit breaker, rate limit.
func (s *WebhookService) admit(ctx context.Context, cfg *domain.BridgeConfig, event *domain.IssueEvent) error {
	if !cfg.Enabled {
		return apperrors.NewConfigurationError(ReasonBridgeDisabled)
	}
	if event.Action == "" {
		return apperrors.NewConfigurationError(ReasonUnsupportedEvent)
	}
	if decision := s.gate.Check(cfg, s.now()); decision.Open {
		return apperrors.NewCircuitOpen(map[string]any{"retryAt": decision.RetryAt})
	}
	if decision := s.limiter.Allow(ctx, cfg.TenantID); !decision.Allowed {
		return apperrors.NewRateLimited(decision.Reason)
	}
	return nil
}

func (s *WebhookService) process(ctx context.Context, repos repository.Repositories, cfg *domain.BridgeConfig, event *domain.IssueEvent) (WebhookResult, error) {
	raw := &domain.RawWebhookEvent{
		TenantID:      cfg.TenantID,
		SourceEventID: event.SourceEventID,
		EventType:     event.EventType,
		IssueID:       event.IssueID,
		Payload:       formatter.Redact(event, cfg.AllowlistedTags),
		Status:        domain.RawEventStatusProcessing,
	}
	if err := repos.RawEvents.Insert(ctx, raw); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return WebhookResult{}, apperrors.NewDuplicateDelivery()
		}
		return WebhookResult{}, fmt.Errorf("insert raw event: %w", err)
	}

	mapping, err := repos.Mappings.Get(ctx, cfg.TenantID, event.IssueID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return WebhookResult{}, fmt.Errorf("load mapping: %w", err)
	}
	if errors.Is(err, repository.ErrNotFound) {
		mapping = nil
	}

	var result WebhookResult
	switch {
	case event.Action == domain.ActionCreate && mapping != nil:
		result = WebhookResult{Success: true, Action: ResultDuplicateCreation, IssueID: event.IssueID}
	case event.Action == domain.ActionCreate:
		result, err = s.create(ctx, repos, cfg, event)
	case mapping == nil:
		result = skipped(event, ReasonNoMapping)
	default:
		result, err = s.transition(ctx, repos, cfg, event, mapping)
	}
	if err != nil {
		return WebhookResult{}, err
	}

	status := domain.RawEventStatusProcessed
	var reason *string
	if result.Action == ResultSkipped || result.Action == ResultDuplicateCreation {
		status = domain.RawEventStatusSkipped
		r := result.Reason
		if r == "" {
			r = result.Action
		}
		reason = &r
	}
	if err := repos.RawEvents.Finalize(ctx, raw.ID, status, reason); err != nil {
		return WebhookResult{}, fmt.Errorf("finalize raw event: %w", err)
	}
	return result, nil
}

func (s *WebhookService) create(ctx context.Context, repos repository.Repositories, cfg *domain.BridgeConfig, event *domain.IssueEvent) (WebhookResult, error) {
	rules, err := repos.Rules.ListByTenant(ctx, cfg.TenantID)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("load routing rules: %w", err)
	}
	decision, ok := routing.Route(event, rules, cfg.DefaultRouting)
	if !ok {
		return skipped(event, ReasonNoRoute), nil
	}
	payload := formatter.Format(event, decision.Target, cfg.AllowlistedTags)

	if cfg.TriageModeEnabled {
		item := &domain.TriageItem{
			TenantID:  cfg.TenantID,
			IssueID:   event.IssueID,
			EventType: event.EventType,
			Payload:   payload,
			Routing:   decision.Target,
			Status:    domain.TriageStatusPending,
			ExpiresAt: s.now().Add(s.triageTTL),
		}
		if err := repos.Triage.Create(ctx, item); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return skipped(event, ReasonTriagePending), nil
			}
			return WebhookResult{}, fmt.Errorf("create triage item: %w", err)
		}
		return WebhookResult{Success: true, Action: ResultTriageQueued, IssueID: event.IssueID}, nil
	}

	_, err = s.queue.WithRepository(repos.Queue).Enqueue(ctx, domain.NewQueueItem{
		TenantID:        cfg.TenantID,
		IssueID:         event.IssueID,
		EventType:       event.EventType,
		TargetProjectID: decision.Target.ProjectID,
		TargetOwnerID:   decision.Target.OwnerID,
		Payload:         domain.WorkPayload{Action: domain.ActionCreate, Create: &payload},
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return WebhookResult{Success: true, Action: ResultDuplicateCreation, IssueID: event.IssueID}, nil
	}
	if err != nil {
		return WebhookResult{}, err
	}
	return WebhookResult{Success: true, Action: ResultQueued, IssueID: event.IssueID}, nil
}

// transition queues a lifecycle update and records the optimistic sync status in the same
// transaction. Routing is only consulted to tag the item with a project.
func (s *WebhookService) transition(ctx context.Context, repos repository.Repositories, cfg *domain.BridgeConfig, event *domain.IssueEvent, mapping *domain.IssueTicketMapping) (WebhookResult, error) {
	status, _ := event.Action.TicketStatus()
	payload := &domain.TransitionPayload{
		TicketID: mapping.TicketID,
		Status:   status,
		Release:  event.Release,
	}
	if event.Action == domain.ActionRegression {
		urgent := domain.HighestPriority
		payload.Priority = &urgent
		payload.Comment = formatter.RegressionComment(event.Release)
	}

	rules, err := repos.Rules.ListByTenant(ctx, cfg.TenantID)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("load routing rules: %w", err)
	}
	var projectID string
	var ownerID *string
	if decision, ok := routing.Route(event, rules, cfg.DefaultRouting); ok {
		projectID = decision.Target.ProjectID
		ownerID = decision.Target.OwnerID
	}

	_, err = s.queue.WithRepository(repos.Queue).Enqueue(ctx, domain.NewQueueItem{
		TenantID:        cfg.TenantID,
		IssueID:         event.IssueID,
		EventType:       event.EventType,
		TargetProjectID: projectID,
		TargetOwnerID:   ownerID,
		Payload:         domain.WorkPayload{Action: event.Action, Transition: payload},
	})
	if err != nil {
		return WebhookResult{}, err
	}
	if err := repos.Mappings.UpdateSyncStatus(ctx, cfg.TenantID, event.IssueID, event.Action.SyncStatus(), s.now()); err != nil {
		return WebhookResult{}, fmt.Errorf("update sync status: %w", err)
	}
	return WebhookResult{Success: true, Action: event.Action.ResponseAction(), IssueID: event.IssueID}, nil
}

func (s *WebhookService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func skipped(event *domain.IssueEvent, reason string) WebhookResult {
	return WebhookResult{Success: true, Action: ResultSkipped, IssueID: event.IssueID, Reason: reason}
}

func skipResult(event *domain.IssueEvent, err error) (WebhookResult, error) {
	domainErr := apperrors.ToDomainError(err)
	if !domainErr.Skip() {
		return WebhookResult{}, err
	}
	return skipped(event, domainErr.Message), nil
}
