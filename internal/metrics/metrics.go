// Package metrics accumulates execution counters for the query engine.
//
// A single Metrics value is shared by every connection of a client and
// updated lock-free from whatever goroutine happens to finish a query.
// Counters can be read as a plain Stats snapshot or exported to a
// Prometheus registry via Collector.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics holds process-lifetime execution counters. All methods are
// safe for concurrent use.
type Metrics struct {
	queries      atomic.Int64
	failures     atomic.Int64
	latencyNanos atomic.Int64
}

// New returns a zeroed Metrics.
func New() *Metrics {
	return &Metrics{}
}

// RecordSuccess counts one completed query and adds its duration to the
// cumulative latency. Only successful executions contribute to latency.
func (m *Metrics) RecordSuccess(d time.Duration) {
	m.queries.Add(1)
	m.latencyNanos.Add(int64(d))
}

// RecordFailure counts one failed execution attempt. Each retry that
// fails counts individually, so a query that fails twice before
// succeeding records two failures and one success.
func (m *Metrics) RecordFailure() {
	m.failures.Add(1)
}

// Stats is a point-in-time copy of the counters.
type Stats struct {
	// Queries is the number of successfully completed queries.
	Queries int64
	// Failures is the number of failed execution attempts.
	Failures int64
	// TotalLatency is the summed wall-clock duration of successful queries.
	TotalLatency time.Duration
	// AvgLatency is TotalLatency divided by Queries, zero when no
	// queries have completed.
	AvgLatency time.Duration
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Stats {
	s := Stats{
		Queries:      m.queries.Load(),
		Failures:     m.failures.Load(),
		TotalLatency: time.Duration(m.latencyNanos.Load()),
	}
	if s.Queries > 0 {
		s.AvgLatency = s.TotalLatency / time.Duration(s.Queries)
	}
	return s
}

// Reset zeroes all counters.
func (m *Metrics) Reset() {
	m.queries.Store(0)
	m.failures.Store(0)
	m.latencyNanos.Store(0)
}
