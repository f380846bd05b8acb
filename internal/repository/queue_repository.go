package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/issue-bridge/internal/domain"
)

type queueRepository struct {
	db DBTX
}

// NewQueueRepository instantiates repository.
func NewQueueRepository(db DBTX) QueueRepository {
	return &queueRepository{db: db}
}

const queueColumns = `id, tenant_id, issue_id, event_type, target_project_id, target_owner_id,
               ticket_payload, status, attempt_count, max_attempts, next_attempt_at, locked_by,
               locked_until, last_error, result_ref, created_at, updated_at, completed_at`

// Insert stores a new item. A create for an issue that already has a live create item returns
// ErrDuplicate without aborting the surrounding transaction.
func (r *queueRepository) Insert(ctx context.Context, item *domain.QueueItem) error {
	const query = `
        INSERT INTO bridge_queue_items (tenant_id, issue_id, event_type, target_project_id, target_owner_id,
            ticket_payload, status, attempt_count, max_attempts, next_attempt_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (tenant_id, issue_id)
            WHERE ticket_payload->>'action' = 'create' AND status IN ('pending', 'processing')
            DO NOTHING
        RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		item.TenantID,
		item.IssueID,
		item.EventType,
		item.TargetProjectID,
		item.TargetOwnerID,
		item.Payload,
		item.Status,
		item.AttemptCount,
		item.MaxAttempts,
		item.NextAttemptAt,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *queueRepository) Get(ctx context.Context, id string) (*domain.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM bridge_queue_items WHERE id=$1`
	item, err := scanQueueItem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return item, nil
}

// Claim leases up to limit due items to lockedBy in a single statement. Rows locked by a
// concurrent claim are skipped, so no item is handed to two callers.
func (r *queueRepository) Claim(ctx context.Context, limit int, lockedBy string, now time.Time, lease time.Duration) ([]domain.QueueItem, error) {
	const query = `
        WITH due AS (
            SELECT id FROM bridge_queue_items
            WHERE (status='pending' AND next_attempt_at <= $1)
               OR (status='processing' AND locked_until < $1)
            ORDER BY next_attempt_at ASC, id ASC
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        UPDATE bridge_queue_items q
        SET status='processing', locked_by=$3, locked_until=$4, updated_at=$1
        FROM due WHERE q.id = due.id
        RETURNING q.id, q.tenant_id, q.issue_id, q.event_type, q.target_project_id, q.target_owner_id,
               q.ticket_payload, q.status, q.attempt_count, q.max_attempts, q.next_attempt_at, q.locked_by,
               q.locked_until, q.last_error, q.result_ref, q.created_at, q.updated_at, q.completed_at`

	rows, err := r.db.Query(ctx, query, now, limit, lockedBy, now.Add(lease))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// Complete finishes an item still leased by lockedBy. ErrNotFound means the lease was lost.
func (r *queueRepository) Complete(ctx context.Context, id, lockedBy string, resultRef *string, now time.Time) error {
	const query = `
        UPDATE bridge_queue_items
        SET status='completed', result_ref=$1, locked_by=NULL, locked_until=NULL,
            completed_at=$2, updated_at=$2
        WHERE id=$3 AND locked_by=$4 AND status='processing'`
	cmd, err := r.db.Exec(ctx, query, resultRef, now, id, lockedBy)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail records a failed attempt on an item still leased by lockedBy.
func (r *queueRepository) Fail(ctx context.Context, id, lockedBy string, failure domain.QueueFailure, now time.Time) error {
	const query = `
        UPDATE bridge_queue_items
        SET status=$1, attempt_count=$2, next_attempt_at=$3, last_error=$4,
            locked_by=NULL, locked_until=NULL, updated_at=$5
        WHERE id=$6 AND locked_by=$7 AND status='processing'`
	cmd, err := r.db.Exec(ctx, query,
		failure.Status,
		failure.AttemptCount,
		failure.NextAttemptAt,
		failure.LastError,
		now,
		id,
		lockedBy,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Requeue returns a dead-lettered item to pending with a fresh attempt budget.
func (r *queueRepository) Requeue(ctx context.Context, id string, now time.Time) error {
	const query = `
        UPDATE bridge_queue_items
        SET status='pending', attempt_count=0, next_attempt_at=$1, updated_at=$1
        WHERE id=$2 AND status='dead_lettered'`
	cmd, err := r.db.Exec(ctx, query, now, id)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *queueRepository) Stats(ctx context.Context, tenantID string) (domain.QueueStats, error) {
	const query = `SELECT status, COUNT(*) FROM bridge_queue_items WHERE tenant_id=$1 GROUP BY status`
	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := domain.QueueStats{}
	for rows.Next() {
		var (
			status domain.QueueStatus
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (r *queueRepository) ListByStatus(ctx context.Context, tenantID string, status domain.QueueStatus, limit int) ([]domain.QueueItem, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + queueColumns + ` FROM bridge_queue_items
        WHERE tenant_id=$1 AND status=$2 ORDER BY updated_at DESC LIMIT $3`
	rows, err := r.db.Query(ctx, query, tenantID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanQueueItem(row rowScanner) (*domain.QueueItem, error) {
	var item domain.QueueItem
	if err := row.Scan(
		&item.ID,
		&item.TenantID,
		&item.IssueID,
		&item.EventType,
		&item.TargetProjectID,
		&item.TargetOwnerID,
		&item.Payload,
		&item.Status,
		&item.AttemptCount,
		&item.MaxAttempts,
		&item.NextAttemptAt,
		&item.LockedBy,
		&item.LockedUntil,
		&item.LastError,
		&item.ResultRef,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.CompletedAt,
	); err != nil {
		return nil, err
	}
	return &item, nil
}
