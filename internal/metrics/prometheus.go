package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes a Metrics value to a Prometheus registry. Counter
// values are read at scrape time, so the same Metrics instance can back
// both Snapshot callers and a registry without double counting.
type Collector struct {
	metrics *Metrics

	queries  *prometheus.Desc
	failures *prometheus.Desc
	latency  *prometheus.Desc
}

// NewCollector wraps m for registration with a prometheus.Registerer.
func NewCollector(m *Metrics) *Collector {
	return &Collector{
		metrics: m,
		queries: prometheus.NewDesc(
			"tabula_queries_total",
			"Completed queries across all connections.",
			nil, nil,
		),
		failures: prometheus.NewDesc(
			"tabula_query_failures_total",
			"Failed execution attempts, including retried ones.",
			nil, nil,
		),
		latency: prometheus.NewDesc(
			"tabula_query_latency_seconds_total",
			"Cumulative wall-clock time spent in successful queries.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queries
	ch <- c.failures
	ch <- c.latency
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.queries, prometheus.CounterValue, float64(s.Queries))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(s.Failures))
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.CounterValue, s.TotalLatency.Seconds())
}
