package repository

import (
	"context"
	"time"

	"github.com/spec-kit/issue-bridge/internal/domain"
)

type metricsRepository struct {
	db DBTX
}

// NewMetricsRepository instantiates repository.
func NewMetricsRepository(db DBTX) MetricsRepository {
	return &metricsRepository{db: db}
}

// Increment adds delta to the tenant's counters for day. Concurrent writers never lose updates.
func (r *metricsRepository) Increment(ctx context.Context, tenantID string, day time.Time, delta domain.MetricsDelta) error {
	if delta.IsZero() {
		return nil
	}
	const query = `
        INSERT INTO bridge_metrics (tenant_id, day, tickets_created, tickets_updated, errors, total_processing_time_ms)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (tenant_id, day) DO UPDATE SET
            tickets_created = bridge_metrics.tickets_created + EXCLUDED.tickets_created,
            tickets_updated = bridge_metrics.tickets_updated + EXCLUDED.tickets_updated,
            errors = bridge_metrics.errors + EXCLUDED.errors,
            total_processing_time_ms = bridge_metrics.total_processing_time_ms + EXCLUDED.total_processing_time_ms`
	_, err := r.db.Exec(ctx, query,
		tenantID,
		Day(day),
		delta.TicketsCreated,
		delta.TicketsUpdated,
		delta.Errors,
		delta.TotalProcessingTimeMs,
	)
	return err
}

func (r *metricsRepository) Range(ctx context.Context, tenantID string, from, to time.Time) ([]domain.DailyMetrics, error) {
	const query = `
        SELECT tenant_id, day, tickets_created, tickets_updated, errors, total_processing_time_ms
        FROM bridge_metrics WHERE tenant_id=$1 AND day >= $2 AND day <= $3
        ORDER BY day ASC`
	rows, err := r.db.Query(ctx, query, tenantID, Day(from), Day(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DailyMetrics
	for rows.Next() {
		var m domain.DailyMetrics
		if err := rows.Scan(
			&m.TenantID,
			&m.Day,
			&m.TicketsCreated,
			&m.TicketsUpdated,
			&m.Errors,
			&m.TotalProcessingTimeMs,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
