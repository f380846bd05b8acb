package repository

import (
	"context"
	"time"

	"github.com/spec-kit/issue-bridge/internal/domain"
)

type bridgeConfigRepository struct {
	db DBTX
}

// NewBridgeConfigRepository instantiates repository.
func NewBridgeConfigRepository(db DBTX) BridgeConfigRepository {
	return &bridgeConfigRepository{db: db}
}

func (r *bridgeConfigRepository) Get(ctx context.Context, tenantID string) (*domain.BridgeConfig, error) {
	const query = `
        SELECT tenant_id, enabled, triage_mode_enabled, allowlisted_tags, circuit_breaker_tripped_at,
               circuit_breaker_cooldown_minutes, default_project_id, default_owner_id, default_priority,
               created_at, updated_at
        FROM bridge_configs WHERE tenant_id=$1`

	var (
		cfg             domain.BridgeConfig
		defaultProject  *string
		defaultOwner    *string
		defaultPriority *domain.TicketPriority
	)
	if err := r.db.QueryRow(ctx, query, tenantID).Scan(
		&cfg.TenantID,
		&cfg.Enabled,
		&cfg.TriageModeEnabled,
		&cfg.AllowlistedTags,
		&cfg.CircuitBreakerTrippedAt,
		&cfg.CircuitBreakerCooldownMinutes,
		&defaultProject,
		&defaultOwner,
		&defaultPriority,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	if defaultProject != nil && *defaultProject != "" {
		cfg.DefaultRouting = &domain.RoutingTarget{
			ProjectID: *defaultProject,
			OwnerID:   defaultOwner,
			Priority:  defaultPriority,
		}
	}
	return &cfg, nil
}

func (r *bridgeConfigRepository) Upsert(ctx context.Context, cfg *domain.BridgeConfig) error {
	const query = `
        INSERT INTO bridge_configs (tenant_id, enabled, triage_mode_enabled, allowlisted_tags,
            circuit_breaker_tripped_at, circuit_breaker_cooldown_minutes, default_project_id,
            default_owner_id, default_priority)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (tenant_id) DO UPDATE SET
            enabled=EXCLUDED.enabled,
            triage_mode_enabled=EXCLUDED.triage_mode_enabled,
            allowlisted_tags=EXCLUDED.allowlisted_tags,
            circuit_breaker_tripped_at=EXCLUDED.circuit_breaker_tripped_at,
            circuit_breaker_cooldown_minutes=EXCLUDED.circuit_breaker_cooldown_minutes,
            default_project_id=EXCLUDED.default_project_id,
            default_owner_id=EXCLUDED.default_owner_id,
            default_priority=EXCLUDED.default_priority,
            updated_at=NOW()
        RETURNING created_at, updated_at`

	var (
		defaultProject  *string
		defaultOwner    *string
		defaultPriority *domain.TicketPriority
	)
	if cfg.DefaultRouting != nil {
		defaultProject = &cfg.DefaultRouting.ProjectID
		defaultOwner = cfg.DefaultRouting.OwnerID
		defaultPriority = cfg.DefaultRouting.Priority
	}
	tags := cfg.AllowlistedTags
	if tags == nil {
		tags = []string{}
	}
	return r.db.QueryRow(ctx, query,
		cfg.TenantID,
		cfg.Enabled,
		cfg.TriageModeEnabled,
		tags,
		cfg.CircuitBreakerTrippedAt,
		cfg.CircuitBreakerCooldownMinutes,
		defaultProject,
		defaultOwner,
		defaultPriority,
	).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
}

func (r *bridgeConfigRepository) SetBreaker(ctx context.Context, tenantID string, trippedAt *time.Time) error {
	const query = `UPDATE bridge_configs SET circuit_breaker_tripped_at=$1, updated_at=NOW() WHERE tenant_id=$2`
	cmd, err := r.db.Exec(ctx, query, trippedAt, tenantID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
