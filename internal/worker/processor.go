// Package worker drains the work queue into the ticket system.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/issue-bridge/internal/breaker"
	"github.com/spec-kit/issue-bridge/internal/domain"
	"github.com/spec-kit/issue-bridge/internal/events"
	"github.com/spec-kit/issue-bridge/internal/queue"
	"github.com/spec-kit/issue-bridge/internal/repository"
	"github.com/spec-kit/issue-bridge/internal/ticketclient"
)

// Result markers stored on completed items that made no ticket call.
const (
	ResultSkippedDisabled = "skipped:bridge disabled"
	ResultSkippedExisting = "skipped:ticket exists"
)

// bookkeepingTimeout bounds the queue, mapping and event writes made after a ticket call.
const bookkeepingTimeout = 10 * time.Second

// Result summarizes one run.
type Result struct {
	ProcessedCount   int   `json:"processedCount"`
	SuccessCount     int   `json:"successCount"`
	FailureCount     int   `json:"failureCount"`
	ProcessingTimeMs int64 `json:"processingTimeMs"`
}

// TriageExpirer closes triage items past their deadline.
type TriageExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// BreakerTripper opens a tenant's circuit breaker.
type BreakerTripper interface {
	TripBreaker(ctx context.Context, tenantID, reason string) (*domain.BridgeConfig, error)
}

// Options tune a processor.
type Options struct {
	BatchSize     int
	Concurrency   int
	Lease         time.Duration
	TripThreshold int
}

// Dependencies bundles collaborators for the processor.
type Dependencies struct {
	Store      repository.Store
	Queue      *queue.Queue
	Client     ticketclient.Client
	Triage     TriageExpirer
	Breaker    BreakerTripper
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Now        func() time.Time
}

// Processor runs one batch per call. Any number of processors may run at once; the queue claim
// is the only coordination between them.
type Processor struct {
	store      repository.Store
	queue      *queue.Queue
	client     ticketclient.Client
	triage     TriageExpirer
	breaker    BreakerTripper
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
	opts       Options
}

// NewProcessor constructs a processor.
func NewProcessor(deps Dependencies, opts Options) *Processor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Lease <= 0 {
		opts.Lease = 2 * time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Processor{
		store:      deps.Store,
		queue:      deps.Queue,
		client:     deps.Client,
		triage:     deps.Triage,
		breaker:    deps.Breaker,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		now:        deps.Now,
		opts:       opts,
	}
}

type outcome struct {
	success bool
	delta   domain.MetricsDelta
}

// Run claims one batch and processes it with bounded parallelism. A failing item never aborts
// the batch; only a failed claim is returned as an error.
func (p *Processor) Run(ctx context.Context) (Result, error) {
	started := time.Now()

	if p.triage != nil {
		if _, err := p.triage.ExpireStale(ctx); err != nil {
			p.logger.Warn("triage expiry failed", zap.Error(err))
		}
	}

	items, err := p.queue.Claim(ctx, p.opts.BatchSize, p.opts.Lease)
	if err != nil {
		return Result{}, err
	}

	var (
		mu       sync.Mutex
		result   Result
		deltas   = make(map[string]domain.MetricsDelta)
		failures = breaker.NewFailureTracker(p.opts.TripThreshold)
		wg       sync.WaitGroup
		sem      = make(chan struct{}, p.opts.Concurrency)
	)

	for i := range items {
		item := items[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			out := p.process(ctx, &item, failures)

			mu.Lock()
			defer mu.Unlock()
			result.ProcessedCount++
			if out.success {
				result.SuccessCount++
			} else {
				result.FailureCount++
			}
			deltas[item.TenantID] = addDelta(deltas[item.TenantID], out.delta)
		}()
	}
	wg.Wait()

	bg, cancel := detached(ctx)
	defer cancel()
	for tenantID, delta := range deltas {
		if delta.IsZero() {
			continue
		}
		if err := p.store.Repos().Metrics.Increment(bg, tenantID, repository.Day(p.now()), delta); err != nil {
			p.logger.Warn("metrics increment failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}

	result.ProcessingTimeMs = time.Since(started).Milliseconds()
	if result.ProcessedCount > 0 {
		p.logger.Info("worker run finished",
			zap.Int("processed", result.ProcessedCount),
			zap.Int("succeeded", result.SuccessCount),
			zap.Int("failed", result.FailureCount),
			zap.Int64("duration_ms", result.ProcessingTimeMs))
	}
	return result, nil
}

func (p *Processor) process(ctx context.Context, item *domain.QueueItem, failures *breaker.FailureTracker) (out outcome) {
	started := time.Now()
	logger := p.logger.With(
		zap.String("tenant_id", item.TenantID),
		zap.String("issue_id", item.IssueID),
		zap.String("queue_item_id", item.ID),
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panic", zap.Any("panic", r))
			p.fail(ctx, logger, item, fmt.Errorf("panic: %v", r), false)
			out = outcome{delta: domain.MetricsDelta{Errors: 1}}
		}
		out.delta.TotalProcessingTimeMs += time.Since(started).Milliseconds()
	}()

	if err := item.Payload.Validate(); err != nil {
		logger.Error("invalid payload", zap.Error(err))
		p.fail(ctx, logger, item, err, true)
		return outcome{delta: domain.MetricsDelta{Errors: 1}}
	}

	cfg, err := p.store.Repos().Configs.Get(ctx, item.TenantID)
	switch {
	case errors.Is(err, repository.ErrNotFound) || (err == nil && !cfg.Enabled):
		return p.complete(ctx, logger, item, ResultSkippedDisabled, domain.MetricsDelta{})
	case err != nil:
		p.fail(ctx, logger, item, fmt.Errorf("load bridge config: %w", err), false)
		return outcome{delta: domain.MetricsDelta{Errors: 1}}
	}

	// The ticket call gets the lease as its deadline. Writes after it are detached from ctx.
	callCtx, cancel := context.WithTimeout(ctx, p.opts.Lease)
	defer cancel()

	if item.Payload.Action == domain.ActionCreate {
		return p.create(ctx, callCtx, logger, item, failures)
	}
	return p.transition(ctx, callCtx, logger, item, failures)
}

func (p *Processor) create(ctx, callCtx context.Context, logger *zap.Logger, item *domain.QueueItem, failures *breaker.FailureTracker) outcome {
	existing, err := p.store.Repos().Mappings.Get(ctx, item.TenantID, item.IssueID)
	if err == nil {
		logger.Info("ticket already exists", zap.String("ticket_id", existing.TicketID))
		return p.complete(ctx, logger, item, ResultSkippedExisting, domain.MetricsDelta{})
	}
	if !errors.Is(err, repository.ErrNotFound) {
		p.fail(ctx, logger, item, fmt.Errorf("load mapping: %w", err), false)
		return outcome{delta: domain.MetricsDelta{Errors: 1}}
	}

	ticket, err := p.client.Create(callCtx, *item.Payload.Create, item.TargetProjectID, item.TargetOwnerID)
	if err != nil {
		return p.downstreamFailure(ctx, logger, item, err, failures)
	}

	bg, cancel := detached(ctx)
	defer cancel()

	now := p.now()
	stored, err := p.store.Repos().Mappings.Upsert(bg, &domain.IssueTicketMapping{
		TenantID:     item.TenantID,
		IssueID:      item.IssueID,
		TicketID:     ticket.ID,
		TicketURL:    ticket.URL,
		SyncStatus:   domain.SyncStatusSynced,
		LastSyncedAt: now,
	})
	if err != nil {
		// The ticket exists but is unrecorded; the id is logged for reconciliation.
		logger.Error("mapping upsert failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
		p.fail(bg, logger, item, fmt.Errorf("upsert mapping: %w", err), false)
		return outcome{delta: domain.MetricsDelta{Errors: 1}}
	}
	if stored.TicketID != ticket.ID {
		logger.Warn("concurrent ticket creation", zap.String("kept", stored.TicketID), zap.String("orphaned", ticket.ID))
	}

	p.publish(bg, events.Event{
		Type:     events.EventTicketCreated,
		TenantID: item.TenantID,
		IssueID:  item.IssueID,
		Payload: events.TicketCreatedPayload{
			TicketID:  stored.TicketID,
			TicketURL: stored.TicketURL,
			ProjectID: item.TargetProjectID,
			Priority:  item.Payload.Create.Priority,
		},
	})
	return p.complete(bg, logger, item, stored.TicketID, domain.MetricsDelta{TicketsCreated: 1})
}

func (p *Processor) transition(ctx, callCtx context.Context, logger *zap.Logger, item *domain.QueueItem, failures *breaker.FailureTracker) outcome {
	t := item.Payload.Transition
	status := t.Status
	patch := domain.TicketPatch{Status: &status, Priority: t.Priority, Comment: t.Comment}

	if err := p.client.Update(callCtx, t.TicketID, patch); err != nil {
		return p.downstreamFailure(ctx, logger, item, err, failures)
	}

	bg, cancel := detached(ctx)
	defer cancel()

	err := p.store.Repos().Mappings.UpdateSyncStatus(bg, item.TenantID, item.IssueID, item.Payload.Action.SyncStatus(), p.now())
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		logger.Warn("sync status update failed", zap.Error(err))
	}

	p.publish(bg, events.Event{
		Type:     events.EventTicketUpdated,
		TenantID: item.TenantID,
		IssueID:  item.IssueID,
		Payload: events.TicketUpdatedPayload{
			TicketID: t.TicketID,
			Action:   item.Payload.Action,
			Status:   t.Status,
		},
	})
	return p.complete(bg, logger, item, t.TicketID, domain.MetricsDelta{TicketsUpdated: 1})
}

func (p *Processor) complete(ctx context.Context, logger *zap.Logger, item *domain.QueueItem, resultRef string, delta domain.MetricsDelta) outcome {
	bg, cancel := detached(ctx)
	defer cancel()

	if err := p.queue.Complete(bg, item, resultRef); err != nil {
		// Work already happened; a reclaiming worker will hit the idempotency check.
		logger.Warn("complete failed", zap.Error(err))
	}
	return outcome{success: true, delta: delta}
}

func (p *Processor) downstreamFailure(ctx context.Context, logger *zap.Logger, item *domain.QueueItem, cause error, failures *breaker.FailureTracker) outcome {
	logger.Warn("ticket system call failed", zap.Int("attempt", item.AttemptCount+1), zap.Error(cause))
	p.fail(ctx, logger, item, cause, false)

	if failures.Record(item.TenantID) && p.breaker != nil {
		bg, cancel := detached(ctx)
		defer cancel()
		if _, err := p.breaker.TripBreaker(bg, item.TenantID, "repeated ticket system failures"); err != nil {
			logger.Error("breaker trip failed", zap.Error(err))
		}
	}
	return outcome{delta: domain.MetricsDelta{Errors: 1}}
}

func (p *Processor) fail(ctx context.Context, logger *zap.Logger, item *domain.QueueItem, cause error, moveToDLQ bool) {
	bg, cancel := detached(ctx)
	defer cancel()

	failure, err := p.queue.Fail(bg, item, cause, moveToDLQ)
	if err != nil {
		logger.Error("recording failure failed", zap.Error(err))
		return
	}
	if failure.Status != domain.QueueStatusDeadLettered {
		return
	}
	logger.Error("queue item dead-lettered", zap.Int("attempts", failure.AttemptCount), zap.String("last_error", failure.LastError))
	p.publish(bg, events.Event{
		Type:     events.EventItemDeadLettered,
		TenantID: item.TenantID,
		IssueID:  item.IssueID,
		Payload: events.ItemDeadLetteredPayload{
			QueueItemID:  item.ID,
			AttemptCount: failure.AttemptCount,
			LastError:    failure.LastError,
		},
	})
}

func (p *Processor) publish(ctx context.Context, event events.Event) {
	if p.dispatcher == nil {
		return
	}
	bg, cancel := detached(ctx)
	defer cancel()

	if err := p.dispatcher.Publish(bg, event); err != nil {
		p.logger.Warn("publish event failed",
			zap.String("event_type", string(event.Type)),
			zap.String("tenant_id", event.TenantID),
			zap.Error(err))
	}
}

// detached keeps ctx values but not its cancellation, so a run cut short still records what
// the ticket system already did.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}

func addDelta(a, b domain.MetricsDelta) domain.MetricsDelta {
	return domain.MetricsDelta{
		TicketsCreated:        a.TicketsCreated + b.TicketsCreated,
		TicketsUpdated:        a.TicketsUpdated + b.TicketsUpdated,
		Errors:                a.Errors + b.Errors,
		TotalProcessingTimeMs: a.TotalProcessingTimeMs + b.TotalProcessingTimeMs,
	}
}
