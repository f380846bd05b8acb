package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/issue-bridge/internal/domain"
	"github.com/spec-kit/issue-bridge/internal/events"
	"github.com/spec-kit/issue-bridge/internal/queue"
	"github.com/spec-kit/issue-bridge/internal/repository"
	apperrors "github.com/spec-kit/issue-bridge/pkg/util/errorutil"
)

// TriageService applies human decisions to items held back by triage mode.
type TriageService struct {
	store      repository.Store
	queue      *queue.Queue
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// TriageDependencies bundles collaborators for the triage service.
type TriageDependencies struct {
	Store      repository.Store
	Queue      *queue.Queue
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Now        func() time.Time
}

// TriageListInput filters the triage listing.
type TriageListInput struct {
	TenantID string
	Status   string
	Limit    int
}

// NewTriageService constructs the service.
func NewTriageService(deps TriageDependencies) *TriageService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &TriageService{
		store:      deps.Store,
		queue:      deps.Queue,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		now:        deps.Now,
	}
}

// List returns triage items for a tenant, newest first.
func (s *TriageService) List(ctx context.Context, input TriageListInput) ([]domain.TriageItem, error) {
	if strings.TrimSpace(input.TenantID) == "" {
		return nil, apperrors.NewValidationError("tenant_id is required", nil)
	}
	filter := repository.TriageFilter{TenantID: input.TenantID, Limit: input.Limit}
	if input.Status != "" {
		status := domain.TriageStatus(strings.ToLower(input.Status))
		switch status {
		case domain.TriageStatusPending, domain.TriageStatusApproved, domain.TriageStatusRejected, domain.TriageStatusExpired:
			filter.Status = &status
		default:
			return nil, apperrors.NewValidationError("invalid triage status", map[string]any{"status": input.Status})
		}
	}
	return s.store.Repos().Triage.List(ctx, filter)
}

// Approve enqueues the stored payload and routing exactly as captured at creation, then marks
// the item approved. Both happen in one transaction.
func (s *TriageService) Approve(ctx context.Context, id, decidedBy string) (*domain.TriageItem, error) {
	var approved *domain.TriageItem
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		item, err := s.pending(ctx, repos, id)
		if err != nil {
			return err
		}
		payload := item.Payload
		queued, err := s.queue.WithRepository(repos.Queue).Enqueue(ctx, domain.NewQueueItem{
			TenantID:        item.TenantID,
			IssueID:         item.IssueID,
			EventType:       item.EventType,
			TargetProjectID: item.Routing.ProjectID,
			TargetOwnerID:   item.Routing.OwnerID,
			Payload:         domain.WorkPayload{Action: domain.ActionCreate, Create: &payload},
		})
		if errors.Is(err, repository.ErrDuplicate) {
			return apperrors.NewConflict("ticket creation already queued", map[string]any{"issueId": item.IssueID})
		}
		if err != nil {
			return err
		}
		if err := s.decide(ctx, repos, item, domain.TriageStatusApproved, decidedBy, nil, &queued.ID); err != nil {
			return err
		}
		approved = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.announce(ctx, approved)
	return approved, nil
}

// Reject closes the item without creating a ticket.
func (s *TriageService) Reject(ctx context.Context, id, decidedBy, reason string) (*domain.TriageItem, error) {
	var rejected *domain.TriageItem
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		item, err := s.pending(ctx, repos, id)
		if err != nil {
			return err
		}
		var why *string
		if reason = strings.TrimSpace(reason); reason != "" {
			why = &reason
		}
		if err := s.decide(ctx, repos, item, domain.TriageStatusRejected, decidedBy, why, nil); err != nil {
			return err
		}
		rejected = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.announce(ctx, rejected)
	return rejected, nil
}

// ExpireStale marks pending items past their deadline as expired.
func (s *TriageService) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.store.Repos().Triage.ExpireStale(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expire triage items: %w", err)
	}
	if n > 0 {
		s.logger.Info("triage items expired", zap.Int64("count", n))
	}
	return n, nil
}

func (s *TriageService) pending(ctx context.Context, repos repository.Repositories, id string) (*domain.TriageItem, error) {
	item, err := repos.Triage.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("triage item", map[string]any{"id": id})
		}
		return nil, err
	}
	if item.Status != domain.TriageStatusPending {
		return nil, apperrors.NewConflict("triage item already decided", map[string]any{"status": item.Status})
	}
	if !item.ExpiresAt.After(s.now()) {
		return nil, apperrors.NewConflict("triage item expired", map[string]any{"expiresAt": item.ExpiresAt})
	}
	return item, nil
}

func (s *TriageService) decide(ctx context.Context, repos repository.Repositories, item *domain.TriageItem, status domain.TriageStatus, decidedBy string, reason, queueItemID *string) error {
	now := s.now()
	err := repos.Triage.Decide(ctx, item.ID, repository.TriageDecision{
		Status:      status,
		DecidedBy:   decidedBy,
		Reason:      reason,
		QueueItemID: queueItemID,
		DecidedAt:   now,
	})
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewConflict("triage item already decided", nil)
	}
	if err != nil {
		return err
	}
	item.Status = status
	item.DecidedBy = &decidedBy
	item.DecidedAt = &now
	item.Reason = reason
	item.QueueItemID = queueItemID
	return nil
}

func (s *TriageService) announce(ctx context.Context, item *domain.TriageItem) {
	s.logger.Info("triage decided",
		zap.String("tenant_id", item.TenantID),
		zap.String("issue_id", item.IssueID),
		zap.String("status", string(item.Status)))
	if s.dispatcher == nil {
		return
	}
	decidedBy := ""
	if item.DecidedBy != nil {
		decidedBy = *item.DecidedBy
	}
	err := s.dispatcher.Publish(ctx, events.Event{
		Type:     events.EventTriageDecided,
		TenantID: item.TenantID,
		IssueID:  item.IssueID,
		Payload: events.TriagePayload{
			TriageItemID: item.ID,
			Status:       item.Status,
			DecidedBy:    decidedBy,
		},
	})
	if err != nil {
		s.logger.Warn("publish event failed",
			zap.String("event_type", string(events.EventTriageDecided)),
			zap.String("triage_item_id", item.ID),
			zap.Error(err))
	}
}
