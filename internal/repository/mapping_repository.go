package repository

import (
	"context"
	"time"

	"github.com/spec-kit/issue-bridge/internal/domain"
)

type mappingRepository struct {
	db DBTX
}

// NewMappingRepository instantiates repository.
func NewMappingRepository(db DBTX) MappingRepository {
	return &mappingRepository{db: db}
}

func (r *mappingRepository) Get(ctx context.Context, tenantID, issueID string) (*domain.IssueTicketMapping, error) {
	const query = `
        SELECT tenant_id, issue_id, ticket_id, ticket_url, sync_status, last_synced_at, created_at
        FROM bridge_issue_mappings WHERE tenant_id=$1 AND issue_id=$2`
	var m domain.IssueTicketMapping
	if err := r.db.QueryRow(ctx, query, tenantID, issueID).Scan(
		&m.TenantID,
		&m.IssueID,
		&m.TicketID,
		&m.TicketURL,
		&m.SyncStatus,
		&m.LastSyncedAt,
		&m.CreatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// Upsert stores a mapping. When one already exists its ticket is kept and only the sync
// bookkeeping moves; the stored row is returned.
func (r *mappingRepository) Upsert(ctx context.Context, mapping *domain.IssueTicketMapping) (*domain.IssueTicketMapping, error) {
	const query = `
        INSERT INTO bridge_issue_mappings (tenant_id, issue_id, ticket_id, ticket_url, sync_status, last_synced_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (tenant_id, issue_id) DO UPDATE SET
            last_synced_at=EXCLUDED.last_synced_at
        RETURNING tenant_id, issue_id, ticket_id, ticket_url, sync_status, last_synced_at, created_at`

	var stored domain.IssueTicketMapping
	if err := r.db.QueryRow(ctx, query,
		mapping.TenantID,
		mapping.IssueID,
		mapping.TicketID,
		mapping.TicketURL,
		mapping.SyncStatus,
		mapping.LastSyncedAt,
	).Scan(
		&stored.TenantID,
		&stored.IssueID,
		&stored.TicketID,
		&stored.TicketURL,
		&stored.SyncStatus,
		&stored.LastSyncedAt,
		&stored.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *mappingRepository) UpdateSyncStatus(ctx context.Context, tenantID, issueID string, status domain.SyncStatus, at time.Time) error {
	const query = `
        UPDATE bridge_issue_mappings SET sync_status=$1, last_synced_at=$2
        WHERE tenant_id=$3 AND issue_id=$4`
	cmd, err := r.db.Exec(ctx, query, status, at, tenantID, issueID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
