package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/issue-bridge/internal/domain"
)

type triageRepository struct {
	db DBTX
}

// NewTriageRepository instantiates repository.
func NewTriageRepository(db DBTX) TriageRepository {
	return &triageRepository{db: db}
}

const triageColumns = `id, tenant_id, issue_id, event_type, payload, routing, status, decided_by,
               decided_at, reason, queue_item_id, expires_at, created_at`

// Create inserts a pending item. A second pending item for the same issue returns ErrDuplicate
// without aborting the surrounding transaction.
func (r *triageRepository) Create(ctx context.Context, item *domain.TriageItem) error {
	const query = `
        INSERT INTO bridge_triage_items (tenant_id, issue_id, event_type, payload, routing, status, expires_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (tenant_id, issue_id) WHERE status='pending' DO NOTHING
        RETURNING id, created_at`

	if item.Status == "" {
		item.Status = domain.TriageStatusPending
	}
	err := r.db.QueryRow(ctx, query,
		item.TenantID,
		item.IssueID,
		item.EventType,
		item.Payload,
		item.Routing,
		item.Status,
		item.ExpiresAt,
	).Scan(&item.ID, &item.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *triageRepository) Get(ctx context.Context, id string) (*domain.TriageItem, error) {
	query := `SELECT ` + triageColumns + ` FROM bridge_triage_items WHERE id=$1`
	item, err := scanTriage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return item, nil
}

func (r *triageRepository) List(ctx context.Context, filter TriageFilter) ([]domain.TriageItem, error) {
	clauses := []string{"tenant_id=$1"}
	args := []any{filter.TenantID}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM bridge_triage_items WHERE %s ORDER BY created_at DESC LIMIT $%d`,
		triageColumns, strings.Join(clauses, " AND "), len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.TriageItem
	for rows.Next() {
		item, err := scanTriage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// Decide moves a pending item. ErrNotFound means the item is missing or already decided.
func (r *triageRepository) Decide(ctx context.Context, id string, decision TriageDecision) error {
	const query = `
        UPDATE bridge_triage_items
        SET status=$1, decided_by=$2, decided_at=$3, reason=$4, queue_item_id=$5
        WHERE id=$6 AND status='pending'`
	cmd, err := r.db.Exec(ctx, query,
		decision.Status,
		decision.DecidedBy,
		decision.DecidedAt,
		decision.Reason,
		decision.QueueItemID,
		id,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *triageRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	const query = `
        UPDATE bridge_triage_items SET status='expired', decided_at=$1
        WHERE status='pending' AND expires_at <= $1`
	cmd, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTriage(row rowScanner) (*domain.TriageItem, error) {
	var item domain.TriageItem
	if err := row.Scan(
		&item.ID,
		&item.TenantID,
		&item.IssueID,
		&item.EventType,
		&item.Payload,
		&item.Routing,
		&item.Status,
		&item.DecidedBy,
		&item.DecidedAt,
		&item.Reason,
		&item.QueueItemID,
		&item.ExpiresAt,
		&item.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &item, nil
}
