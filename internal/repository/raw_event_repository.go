package repository

import (
	"context"

	"github.com/spec-kit/issue-bridge/internal/domain"
)

type rawEventRepository struct {
	db DBTX
}

// NewRawEventRepository instantiates repository.
func NewRawEventRepository(db DBTX) RawEventRepository {
	return &rawEventRepository{db: db}
}

// Insert records a delivery. A repeated (tenant_id, source_event_id) returns ErrDuplicate.
func (r *rawEventRepository) Insert(ctx context.Context, event *domain.RawWebhookEvent) error {
	const query = `
        INSERT INTO bridge_raw_events (tenant_id, source_event_id, event_type, issue_id, payload, status)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at`

	if event.Status == "" {
		event.Status = domain.RawEventStatusReceived
	}
	err := r.db.QueryRow(ctx, query,
		event.TenantID,
		event.SourceEventID,
		event.EventType,
		event.IssueID,
		[]byte(event.Payload),
		event.Status,
	).Scan(&event.ID, &event.CreatedAt, &event.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *rawEventRepository) Finalize(ctx context.Context, id string, status domain.RawEventStatus, reason *string) error {
	const query = `UPDATE bridge_raw_events SET status=$1, skip_reason=$2, updated_at=NOW() WHERE id=$3`
	cmd, err := r.db.Exec(ctx, query, status, reason, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
