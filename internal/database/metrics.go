package database

import (
	"sync"
	"time"
)

// OperationStats aggregates the transactions run under one operation name.
type OperationStats struct {
	Count  int64         `json:"count"`
	Errors int64         `json:"errors"`
	Slow   int64         `json:"slow"`
	Total  time.Duration `json:"total"`
	Max    time.Duration `json:"max"`
}

// Metrics records per-operation counts and latencies.
type Metrics struct {
	mu   sync.Mutex
	slow time.Duration
	ops  map[string]*OperationStats
}

func newMetrics(slowThreshold time.Duration) *Metrics {
	return &Metrics{slow: slowThreshold, ops: make(map[string]*OperationStats)}
}

// observe records one run and reports whether it crossed the slow threshold.
func (m *Metrics) observe(op string, elapsed time.Duration, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.ops[op]
	if !ok {
		s = &OperationStats{}
		m.ops[op] = s
	}
	s.Count++
	s.Total += elapsed
	if elapsed > s.Max {
		s.Max = elapsed
	}
	if err != nil {
		s.Errors++
	}
	slow := m.slow > 0 && elapsed >= m.slow
	if slow {
		s.Slow++
	}
	return slow
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() map[string]OperationStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]OperationStats, len(m.ops))
	for op, s := range m.ops {
		out[op] = *s
	}
	return out
}
