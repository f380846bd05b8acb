package repository

import (
	"context"

	"github.com/spec-kit/issue-bridge/internal/domain"
)

type routingRuleRepository struct {
	db DBTX
}

// NewRoutingRuleRepository instantiates repository.
func NewRoutingRuleRepository(db DBTX) RoutingRuleRepository {
	return &routingRuleRepository{db: db}
}

func (r *routingRuleRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.RoutingRule, error) {
	const query = `
        SELECT id, tenant_id, name, priority, enabled, match, project_id, owner_id, ticket_priority,
               created_at, updated_at
        FROM bridge_routing_rules WHERE tenant_id=$1
        ORDER BY priority ASC, id ASC`

	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.RoutingRule
	for rows.Next() {
		var rule domain.RoutingRule
		if err := rows.Scan(
			&rule.ID,
			&rule.TenantID,
			&rule.Name,
			&rule.Priority,
			&rule.Enabled,
			&rule.Match,
			&rule.Target.ProjectID,
			&rule.Target.OwnerID,
			&rule.Target.Priority,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ReplaceForTenant swaps the whole rule set. Call it inside a transaction.
func (r *routingRuleRepository) ReplaceForTenant(ctx context.Context, tenantID string, rules []domain.RoutingRule) ([]domain.RoutingRule, error) {
	if _, err := r.db.Exec(ctx, `DELETE FROM bridge_routing_rules WHERE tenant_id=$1`, tenantID); err != nil {
		return nil, err
	}

	const insert = `
        INSERT INTO bridge_routing_rules (tenant_id, name, priority, enabled, match, project_id, owner_id, ticket_priority)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, created_at, updated_at`

	out := make([]domain.RoutingRule, 0, len(rules))
	for _, rule := range rules {
		rule.TenantID = tenantID
		if err := r.db.QueryRow(ctx, insert,
			tenantID,
			rule.Name,
			rule.Priority,
			rule.Enabled,
			rule.Match,
			rule.Target.ProjectID,
			rule.Target.OwnerID,
			rule.Target.Priority,
		).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}
