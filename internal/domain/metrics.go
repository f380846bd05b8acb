package domain

import "time"

// MetricsDelta is added to a tenant's counters for one day.
type MetricsDelta struct {
	TicketsCreated        int64
	TicketsUpdated        int64
	Errors                int64
	TotalProcessingTimeMs int64
}

// IsZero reports whether applying d would change nothing.
func (d MetricsDelta) IsZero() bool {
	return d == MetricsDelta{}
}

// DailyMetrics are cumulative per (tenant, day) counters.
type DailyMetrics struct {
	TenantID string
	Day      time.Time
	MetricsDelta
}
