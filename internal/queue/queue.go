// Package queue implements the durable work queue protocol on top of QueueRepository:
// items are claimed under a lease, then completed or failed by the lease holder.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/issue-bridge/internal/domain"
	"github.com/spec-kit/issue-bridge/internal/repository"
)

// ErrLeaseLost means the item was reclaimed by another worker after our lease expired.
var ErrLeaseLost = errors.New("queue lease lost")

// maxErrorLen bounds last_error.
const maxErrorLen = 2000

// Options tune the queue.
type Options struct {
	MaxAttempts int
	Retry       RetryPolicy
	Now         func() time.Time
}

// Queue wraps a QueueRepository.
type Queue struct {
	repo        repository.QueueRepository
	maxAttempts int
	retry       RetryPolicy
	now         func() time.Time
}

// New creates a queue.
func New(repo repository.QueueRepository, opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Retry.Base <= 0 {
		opts.Retry = NewRetryPolicy(opts.Retry.Base, opts.Retry.Cap)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Queue{repo: repo, maxAttempts: opts.MaxAttempts, retry: opts.Retry, now: opts.Now}
}

// WithRepository returns a copy bound to repo, typically one inside a transaction.
func (q *Queue) WithRepository(repo repository.QueueRepository) *Queue {
	clone := *q
	clone.repo = repo
	return &clone
}

// Enqueue validates the payload and inserts a pending item due now.
func (q *Queue) Enqueue(ctx context.Context, in domain.NewQueueItem) (*domain.QueueItem, error) {
	if err := in.Payload.Validate(); err != nil {
		return nil, err
	}
	if in.TargetProjectID == "" && in.Payload.Action == domain.ActionCreate {
		return nil, fmt.Errorf("%w: target project required", domain.ErrInvalidPayload)
	}
	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.maxAttempts
	}

	item := &domain.QueueItem{
		TenantID:        in.TenantID,
		IssueID:         in.IssueID,
		EventType:       in.EventType,
		TargetProjectID: in.TargetProjectID,
		TargetOwnerID:   in.TargetOwnerID,
		Payload:         in.Payload,
		Status:          domain.QueueStatusPending,
		MaxAttempts:     maxAttempts,
		NextAttemptAt:   q.now(),
	}
	if err := q.repo.Insert(ctx, item); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	return item, nil
}

// Claim leases up to n due items under a fresh worker token.
func (q *Queue) Claim(ctx context.Context, n int, lease time.Duration) ([]domain.QueueItem, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := q.repo.Claim(ctx, n, uuid.NewString(), q.now(), lease)
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	return items, nil
}

// Complete marks a leased item done.
func (q *Queue) Complete(ctx context.Context, item *domain.QueueItem, resultRef string) error {
	lockedBy, err := lockOwner(item)
	if err != nil {
		return err
	}
	var ref *string
	if resultRef != "" {
		ref = &resultRef
	}
	if err := q.repo.Complete(ctx, item.ID, lockedBy, ref, q.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrLeaseLost
		}
		return fmt.Errorf("complete: %w", err)
	}
	return nil
}

// Fail records a failed attempt, rescheduling with backoff or dead-lettering. It returns the
// state the item moved to.
func (q *Queue) Fail(ctx context.Context, item *domain.QueueItem, cause error, moveToDLQ bool) (domain.QueueFailure, error) {
	lockedBy, err := lockOwner(item)
	if err != nil {
		return domain.QueueFailure{}, err
	}
	now := q.now()
	failure := q.retry.Next(item.AttemptCount, item.MaxAttempts, moveToDLQ, now)
	failure.LastError = truncateError(cause)

	if err := q.repo.Fail(ctx, item.ID, lockedBy, failure, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.QueueFailure{}, ErrLeaseLost
		}
		return domain.QueueFailure{}, fmt.Errorf("fail: %w", err)
	}
	return failure, nil
}

// Requeue gives a dead-lettered item a fresh attempt budget.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	if err := q.repo.Requeue(ctx, id, q.now()); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return nil
}

// Stats counts items per status for a tenant.
func (q *Queue) Stats(ctx context.Context, tenantID string) (domain.QueueStats, error) {
	return q.repo.Stats(ctx, tenantID)
}

// ListDeadLettered returns recent dead-lettered items for a tenant.
func (q *Queue) ListDeadLettered(ctx context.Context, tenantID string, limit int) ([]domain.QueueItem, error) {
	return q.repo.ListByStatus(ctx, tenantID, domain.QueueStatusDeadLettered, limit)
}

func lockOwner(item *domain.QueueItem) (string, error) {
	if item == nil || item.LockedBy == nil || *item.LockedBy == "" {
		return "", ErrLeaseLost
	}
	return *item.LockedBy, nil
}

func truncateError(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
