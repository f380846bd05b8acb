package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/issue-bridge/internal/domain"
)

var (
	// ErrNotFound is returned when a row does not exist or a guarded update matched nothing.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert hits a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// BridgeConfigRepository persists per-tenant bridge settings.
type BridgeConfigRepository interface {
	Get(ctx context.Context, tenantID string) (*domain.BridgeConfig, error)
	Upsert(ctx context.Context, cfg *domain.BridgeConfig) error
	SetBreaker(ctx context.Context, tenantID string, trippedAt *time.Time) error
}

// RoutingRuleRepository persists ordered routing rules.
type RoutingRuleRepository interface {
	ListByTenant(ctx context.Context, tenantID string) ([]domain.RoutingRule, error)
	ReplaceForTenant(ctx context.Context, tenantID string, rules []domain.RoutingRule) ([]domain.RoutingRule, error)
}

// RawEventRepository is the delivery dedupe log.
type RawEventRepository interface {
	Insert(ctx context.Context, event *domain.RawWebhookEvent) error
	Finalize(ctx context.Context, id string, status domain.RawEventStatus, reason *string) error
}

// TriageFilter narrows triage listings.
type TriageFilter struct {
	TenantID string
	Status   *domain.TriageStatus
	Limit    int
}

// TriageDecision moves a pending item to a final state.
type TriageDecision struct {
	Status      domain.TriageStatus
	DecidedBy   string
	Reason      *string
	QueueItemID *string
	DecidedAt   time.Time
}

// TriageRepository persists items awaiting human approval.
type TriageRepository interface {
	Create(ctx context.Context, item *domain.TriageItem) error
	Get(ctx context.Context, id string) (*domain.TriageItem, error)
	List(ctx context.Context, filter TriageFilter) ([]domain.TriageItem, error)
	Decide(ctx context.Context, id string, decision TriageDecision) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// QueueRepository is the storage side of the claim/complete/fail protocol.
type QueueRepository interface {
	Insert(ctx context.Context, item *domain.QueueItem) error
	Get(ctx context.Context, id string) (*domain.QueueItem, error)
	Claim(ctx context.Context, limit int, lockedBy string, now time.Time, lease time.Duration) ([]domain.QueueItem, error)
	Complete(ctx context.Context, id, lockedBy string, resultRef *string, now time.Time) error
	Fail(ctx context.Context, id, lockedBy string, failure domain.QueueFailure, now time.Time) error
	Requeue(ctx context.Context, id string, now time.Time) error
	Stats(ctx context.Context, tenantID string) (domain.QueueStats, error)
	ListByStatus(ctx context.Context, tenantID string, status domain.QueueStatus, limit int) ([]domain.QueueItem, error)
}

// MappingRepository is the issue to ticket idempotency ledger.
type MappingRepository interface {
	Get(ctx context.Context, tenantID, issueID string) (*domain.IssueTicketMapping, error)
	Upsert(ctx context.Context, mapping *domain.IssueTicketMapping) (*domain.IssueTicketMapping, error)
	UpdateSyncStatus(ctx context.Context, tenantID, issueID string, status domain.SyncStatus, at time.Time) error
}

// MetricsRepository holds increment-only daily counters.
type MetricsRepository interface {
	Increment(ctx context.Context, tenantID string, day time.Time, delta domain.MetricsDelta) error
	Range(ctx context.Context, tenantID string, from, to time.Time) ([]domain.DailyMetrics, error)
}

// Repositories groups the repositories bound to one connection or transaction.
type Repositories struct {
	Configs   BridgeConfigRepository
	Rules     RoutingRuleRepository
	RawEvents RawEventRepository
	Triage    TriageRepository
	Queue     QueueRepository
	Mappings  MappingRepository
	Metrics   MetricsRepository
}

// Store hands out repositories and runs transactions.
type Store interface {
	Repos() Repositories
	WithTx(ctx context.Context, fn func(repos Repositories) error) error
	Ping(ctx context.Context) error
}

// NewRepositories binds every repository to db.
func NewRepositories(db DBTX) Repositories {
	return Repositories{
		Configs:   NewBridgeConfigRepository(db),
		Rules:     NewRoutingRuleRepository(db),
		RawEvents: NewRawEventRepository(db),
		Triage:    NewTriageRepository(db),
		Queue:     NewQueueRepository(db),
		Mappings:  NewMappingRepository(db),
		Metrics:   NewMetricsRepository(db),
	}
}

type pgStore struct {
	pool  *pgxpool.Pool
	repos Repositories
}

// NewPostgresStore returns a Store backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool, repos: NewRepositories(pool)}
}

func (s *pgStore) Repos() Repositories {
	return s.repos
}

func (s *pgStore) WithTx(ctx context.Context, fn func(repos Repositories) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(NewRepositories(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *pgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
