package observability

import (
	"strconv"
	"sync"
	"time"
)

// RouteStats aggregates requests for one method, route and status.
type RouteStats struct {
	Count          int64 `json:"count"`
	TotalLatencyMs int64 `json:"totalLatencyMs"`
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Requests map[string]RouteStats `json:"requests"`
	Errors   map[string]int64      `json:"errors"`
}

// Metrics provides in-memory HTTP counters keyed by route pattern, not raw path, so tenant
// ids and item ids do not explode the key space.
type Metrics struct {
	mu       sync.Mutex
	requests map[string]RouteStats
	errors   map[string]int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: make(map[string]RouteStats),
		errors:   make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := method + " " + route + " " + strconv.Itoa(status)
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.requests[key]
	stats.Count++
	stats.TotalLatencyMs += duration.Milliseconds()
	m.requests[key] = stats
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method+" "+route+" "+code]++
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{Requests: map[string]RouteStats{}, Errors: map[string]int64{}}
	if m == nil {
		return snap
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.requests {
		snap.Requests[k] = v
	}
	for k, v := range m.errors {
		snap.Errors[k] = v
	}
	return snap
}
