// Package memory is an in-process Store used when no Postgres DSN is configured and in tests.
// It honors the same claim, upsert and uniqueness semantics as the SQL repositories.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/issue-bridge/internal/domain"
	"github.com/spec-kit/issue-bridge/internal/repository"
)

type state struct {
	configs   map[string]domain.BridgeConfig
	rules     map[string][]domain.RoutingRule
	rawEvents map[string]domain.RawWebhookEvent
	rawKeys   map[string]string
	triage    map[string]domain.TriageItem
	queue     map[string]domain.QueueItem
	mappings  map[string]domain.IssueTicketMapping
	metrics   map[string]domain.DailyMetrics
}

func newState() *state {
	return &state{
		configs:   map[string]domain.BridgeConfig{},
		rules:     map[string][]domain.RoutingRule{},
		rawEvents: map[string]domain.RawWebhookEvent{},
		rawKeys:   map[string]string{},
		triage:    map[string]domain.TriageItem{},
		queue:     map[string]domain.QueueItem{},
		mappings:  map[string]domain.IssueTicketMapping{},
		metrics:   map[string]domain.DailyMetrics{},
	}
}

// Values are replaced, never mutated in place, so a shallow copy of each map is a snapshot.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.configs {
		c.configs[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = append([]domain.RoutingRule(nil), v...)
	}
	for k, v := range s.rawEvents {
		c.rawEvents[k] = v
	}
	for k, v := range s.rawKeys {
		c.rawKeys[k] = v
	}
	for k, v := range s.triage {
		c.triage[k] = v
	}
	for k, v := range s.queue {
		c.queue[k] = v
	}
	for k, v := range s.mappings {
		c.mappings[k] = v
	}
	for k, v := range s.metrics {
		c.metrics[k] = v
	}
	return c
}

// Store implements repository.Store in memory.
type Store struct {
	mu    sync.Mutex
	state *state
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{state: newState()}
}

func (s *Store) Repos() repository.Repositories {
	return reposFor(backend{store: s})
}

// WithTx runs fn against a snapshot and publishes it only if fn succeeds. Transactions are
// serialized with every other access.
func (s *Store) WithTx(ctx context.Context, fn func(repos repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(reposFor(backend{store: s, tx: snapshot})); err != nil {
		return err
	}
	s.state = snapshot
	return nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

type backend struct {
	store *Store
	tx    *state
}

func (b backend) do(fn func(st *state) error) error {
	if b.tx != nil {
		return fn(b.tx)
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	return fn(b.store.state)
}

func reposFor(b backend) repository.Repositories {
	return repository.Repositories{
		Configs:   configRepo{b},
		Rules:     ruleRepo{b},
		RawEvents: rawEventRepo{b},
		Triage:    triageRepo{b},
		Queue:     queueRepo{b},
		Mappings:  mappingRepo{b},
		Metrics:   metricsRepo{b},
	}
}

func key(parts ...string) string {
	return strings.Join(parts, "\x00")
}

type configRepo struct{ backend }

func (r configRepo) Get(_ context.Context, tenantID string) (*domain.BridgeConfig, error) {
	var out *domain.BridgeConfig
	err := r.do(func(st *state) error {
		cfg, ok := st.configs[tenantID]
		if !ok {
			return repository.ErrNotFound
		}
		out = &cfg
		return nil
	})
	return out, err
}

func (r configRepo) Upsert(_ context.Context, cfg *domain.BridgeConfig) error {
	return r.do(func(st *state) error {
		now := time.Now().UTC()
		if existing, ok := st.configs[cfg.TenantID]; ok {
			cfg.CreatedAt = existing.CreatedAt
		} else {
			cfg.CreatedAt = now
		}
		cfg.UpdatedAt = now
		st.configs[cfg.TenantID] = *cfg
		return nil
	})
}

func (r configRepo) SetBreaker(_ context.Context, tenantID string, trippedAt *time.Time) error {
	return r.do(func(st *state) error {
		cfg, ok := st.configs[tenantID]
		if !ok {
			return repository.ErrNotFound
		}
		cfg.CircuitBreakerTrippedAt = trippedAt
		cfg.UpdatedAt = time.Now().UTC()
		st.configs[tenantID] = cfg
		return nil
	})
}

type ruleRepo struct{ backend }

func (r ruleRepo) ListByTenant(_ context.Context, tenantID string) ([]domain.RoutingRule, error) {
	var out []domain.RoutingRule
	err := r.do(func(st *state) error {
		out = append(out, st.rules[tenantID]...)
		return nil
	})
	return out, err
}

func (r ruleRepo) ReplaceForTenant(_ context.Context, tenantID string, rules []domain.RoutingRule) ([]domain.RoutingRule, error) {
	out := make([]domain.RoutingRule, 0, len(rules))
	err := r.do(func(st *state) error {
		now := time.Now().UTC()
		for _, rule := range rules {
			rule.TenantID = tenantID
			if rule.ID == "" {
				rule.ID = uuid.NewString()
			}
			rule.CreatedAt, rule.UpdatedAt = now, now
			out = append(out, rule)
		}
		st.rules[tenantID] = append([]domain.RoutingRule(nil), out...)
		return nil
	})
	return out, err
}

type rawEventRepo struct{ backend }

func (r rawEventRepo) Insert(_ context.Context, event *domain.RawWebhookEvent) error {
	return r.do(func(st *state) error {
		k := key(event.TenantID, event.SourceEventID)
		if _, exists := st.rawKeys[k]; exists {
			return repository.ErrDuplicate
		}
		now := time.Now().UTC()
		event.ID = uuid.NewString()
		if event.Status == "" {
			event.Status = domain.RawEventStatusReceived
		}
		event.CreatedAt, event.UpdatedAt = now, now
		st.rawEvents[event.ID] = *event
		st.rawKeys[k] = event.ID
		return nil
	})
}

func (r rawEventRepo) Finalize(_ context.Context, id string, status domain.RawEventStatus, reason *string) error {
	return r.do(func(st *state) error {
		event, ok := st.rawEvents[id]
		if !ok {
			return repository.ErrNotFound
		}
		event.Status = status
		event.SkipReason = reason
		event.UpdatedAt = time.Now().UTC()
		st.rawEvents[id] = event
		return nil
	})
}

// RawEvent returns a stored delivery by id.
func (s *Store) RawEvent(id string) (domain.RawWebhookEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.state.rawEvents[id]
	return event, ok
}

// RawEvents returns every stored delivery for tenantID.
func (s *Store) RawEvents(tenantID string) []domain.RawWebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RawWebhookEvent
	for _, event := range s.state.rawEvents {
		if event.TenantID == tenantID {
			out = append(out, event)
		}
	}
	return out
}

type triageRepo struct{ backend }

func (r triageRepo) Create(_ context.Context, item *domain.TriageItem) error {
	return r.do(func(st *state) error {
		for _, existing := range st.triage {
			if existing.TenantID == item.TenantID && existing.IssueID == item.IssueID &&
				existing.Status == domain.TriageStatusPending {
				return repository.ErrDuplicate
			}
		}
		item.ID = uuid.NewString()
		if item.Status == "" {
			item.Status = domain.TriageStatusPending
		}
		item.CreatedAt = time.Now().UTC()
		st.triage[item.ID] = *item
		return nil
	})
}

func (r triageRepo) Get(_ context.Context, id string) (*domain.TriageItem, error) {
	var out *domain.TriageItem
	err := r.do(func(st *state) error {
		item, ok := st.triage[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &item
		return nil
	})
	return out, err
}

func (r triageRepo) List(_ context.Context, filter repository.TriageFilter) ([]domain.TriageItem, error) {
	var out []domain.TriageItem
	err := r.do(func(st *state) error {
		for _, item := range st.triage {
			if item.TenantID != filter.TenantID {
				continue
			}
			if filter.Status != nil && item.Status != *filter.Status {
				continue
			}
			out = append(out, item)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r triageRepo) Decide(_ context.Context, id string, decision repository.TriageDecision) error {
	return r.do(func(st *state) error {
		item, ok := st.triage[id]
		if !ok || item.Status != domain.TriageStatusPending {
			return repository.ErrNotFound
		}
		decidedAt := decision.DecidedAt
		item.Status = decision.Status
		item.DecidedBy = &decision.DecidedBy
		item.DecidedAt = &decidedAt
		item.Reason = decision.Reason
		item.QueueItemID = decision.QueueItemID
		st.triage[id] = item
		return nil
	})
}

func (r triageRepo) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	var expired int64
	err := r.do(func(st *state) error {
		for id, item := range st.triage {
			if item.Status == domain.TriageStatusPending && !item.ExpiresAt.After(now) {
				at := now
				item.Status = domain.TriageStatusExpired
				item.DecidedAt = &at
				st.triage[id] = item
				expired++
			}
		}
		return nil
	})
	return expired, err
}

type queueRepo struct{ backend }

func liveCreate(item domain.QueueItem) bool {
	return item.Payload.Action == domain.ActionCreate &&
		(item.Status == domain.QueueStatusPending || item.Status == domain.QueueStatusProcessing)
}

func (s *state) hasLiveCreate(tenantID, issueID, exceptID string) bool {
	for id, existing := range s.queue {
		if id != exceptID && existing.TenantID == tenantID && existing.IssueID == issueID && liveCreate(existing) {
			return true
		}
	}
	return false
}

func (r queueRepo) Insert(_ context.Context, item *domain.QueueItem) error {
	return r.do(func(st *state) error {
		if liveCreate(*item) && st.hasLiveCreate(item.TenantID, item.IssueID, "") {
			return repository.ErrDuplicate
		}
		now := time.Now().UTC()
		item.ID = uuid.NewString()
		item.CreatedAt, item.UpdatedAt = now, now
		st.queue[item.ID] = *item
		return nil
	})
}

func (r queueRepo) Get(_ context.Context, id string) (*domain.QueueItem, error) {
	var out *domain.QueueItem
	err := r.do(func(st *state) error {
		item, ok := st.queue[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &item
		return nil
	})
	return out, err
}

func (r queueRepo) Claim(_ context.Context, limit int, lockedBy string, now time.Time, lease time.Duration) ([]domain.QueueItem, error) {
	var claimed []domain.QueueItem
	err := r.do(func(st *state) error {
		var due []domain.QueueItem
		for _, item := range st.queue {
			pendingDue := item.Status == domain.QueueStatusPending && !item.NextAttemptAt.After(now)
			leaseExpired := item.Status == domain.QueueStatusProcessing && item.LockedUntil != nil && item.LockedUntil.Before(now)
			if pendingDue || leaseExpired {
				due = append(due, item)
			}
		}
		sort.Slice(due, func(i, j int) bool {
			if !due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
				return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
			}
			return due[i].ID < due[j].ID
		})
		if len(due) > limit {
			due = due[:limit]
		}

		until := now.Add(lease)
		for _, item := range due {
			owner := lockedBy
			lockedUntil := until
			item.Status = domain.QueueStatusProcessing
			item.LockedBy = &owner
			item.LockedUntil = &lockedUntil
			item.UpdatedAt = now
			st.queue[item.ID] = item
			claimed = append(claimed, item)
		}
		return nil
	})
	return claimed, err
}

func (r queueRepo) leased(st *state, id, lockedBy string) (domain.QueueItem, error) {
	item, ok := st.queue[id]
	if !ok || item.Status != domain.QueueStatusProcessing || item.LockedBy == nil || *item.LockedBy != lockedBy {
		return domain.QueueItem{}, repository.ErrNotFound
	}
	return item, nil
}

func (r queueRepo) Complete(_ context.Context, id, lockedBy string, resultRef *string, now time.Time) error {
	return r.do(func(st *state) error {
		item, err := r.leased(st, id, lockedBy)
		if err != nil {
			return err
		}
		completedAt := now
		item.Status = domain.QueueStatusCompleted
		item.ResultRef = resultRef
		item.LockedBy, item.LockedUntil = nil, nil
		item.CompletedAt = &completedAt
		item.UpdatedAt = now
		st.queue[id] = item
		return nil
	})
}

func (r queueRepo) Fail(_ context.Context, id, lockedBy string, failure domain.QueueFailure, now time.Time) error {
	return r.do(func(st *state) error {
		item, err := r.leased(st, id, lockedBy)
		if err != nil {
			return err
		}
		lastError := failure.LastError
		item.Status = failure.Status
		item.AttemptCount = failure.AttemptCount
		item.NextAttemptAt = failure.NextAttemptAt
		item.LastError = &lastError
		item.LockedBy, item.LockedUntil = nil, nil
		item.UpdatedAt = now
		st.queue[id] = item
		return nil
	})
}

func (r queueRepo) Requeue(_ context.Context, id string, now time.Time) error {
	return r.do(func(st *state) error {
		item, ok := st.queue[id]
		if !ok || item.Status != domain.QueueStatusDeadLettered {
			return repository.ErrNotFound
		}
		item.Status = domain.QueueStatusPending
		if liveCreate(item) && st.hasLiveCreate(item.TenantID, item.IssueID, id) {
			return repository.ErrDuplicate
		}
		item.AttemptCount = 0
		item.NextAttemptAt = now
		item.UpdatedAt = now
		st.queue[id] = item
		return nil
	})
}

func (r queueRepo) Stats(_ context.Context, tenantID string) (domain.QueueStats, error) {
	stats := domain.QueueStats{}
	err := r.do(func(st *state) error {
		for _, item := range st.queue {
			if item.TenantID == tenantID {
				stats[item.Status]++
			}
		}
		return nil
	})
	return stats, err
}

func (r queueRepo) ListByStatus(_ context.Context, tenantID string, status domain.QueueStatus, limit int) ([]domain.QueueItem, error) {
	var out []domain.QueueItem
	err := r.do(func(st *state) error {
		for _, item := range st.queue {
			if item.TenantID == tenantID && item.Status == status {
				out = append(out, item)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type mappingRepo struct{ backend }

func (r mappingRepo) Get(_ context.Context, tenantID, issueID string) (*domain.IssueTicketMapping, error) {
	var out *domain.IssueTicketMapping
	err := r.do(func(st *state) error {
		m, ok := st.mappings[key(tenantID, issueID)]
		if !ok {
			return repository.ErrNotFound
		}
		out = &m
		return nil
	})
	return out, err
}

func (r mappingRepo) Upsert(_ context.Context, mapping *domain.IssueTicketMapping) (*domain.IssueTicketMapping, error) {
	var out domain.IssueTicketMapping
	err := r.do(func(st *state) error {
		k := key(mapping.TenantID, mapping.IssueID)
		if existing, ok := st.mappings[k]; ok {
			existing.LastSyncedAt = mapping.LastSyncedAt
			st.mappings[k] = existing
			out = existing
			return nil
		}
		out = *mapping
		out.CreatedAt = time.Now().UTC()
		st.mappings[k] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r mappingRepo) UpdateSyncStatus(_ context.Context, tenantID, issueID string, status domain.SyncStatus, at time.Time) error {
	return r.do(func(st *state) error {
		k := key(tenantID, issueID)
		m, ok := st.mappings[k]
		if !ok {
			return repository.ErrNotFound
		}
		m.SyncStatus = status
		m.LastSyncedAt = at
		st.mappings[k] = m
		return nil
	})
}

// Mappings returns every mapping stored for tenantID.
func (s *Store) Mappings(tenantID string) []domain.IssueTicketMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.IssueTicketMapping
	for _, m := range s.state.mappings {
		if m.TenantID == tenantID {
			out = append(out, m)
		}
	}
	return out
}

type metricsRepo struct{ backend }

func (r metricsRepo) Increment(_ context.Context, tenantID string, day time.Time, delta domain.MetricsDelta) error {
	if delta.IsZero() {
		return nil
	}
	return r.do(func(st *state) error {
		d := repository.Day(day)
		k := key(tenantID, d.Format(time.DateOnly))
		m, ok := st.metrics[k]
		if !ok {
			m = domain.DailyMetrics{TenantID: tenantID, Day: d}
		}
		m.TicketsCreated += delta.TicketsCreated
		m.TicketsUpdated += delta.TicketsUpdated
		m.Errors += delta.Errors
		m.TotalProcessingTimeMs += delta.TotalProcessingTimeMs
		st.metrics[k] = m
		return nil
	})
}

func (r metricsRepo) Range(_ context.Context, tenantID string, from, to time.Time) ([]domain.DailyMetrics, error) {
	var out []domain.DailyMetrics
	start, end := repository.Day(from), repository.Day(to)
	err := r.do(func(st *state) error {
		for _, m := range st.metrics {
			if m.TenantID == tenantID && !m.Day.Before(start) && !m.Day.After(end) {
				out = append(out, m)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, err
}
