// Package metrics provides Prometheus collectors for sync cycles and the
// connectors they drive.
//
// # Overview
//
// All collectors are registered with the default registry through promauto
// and are safe for concurrent use. Connectors record through a per-source
// Collector so label values stay consistent:
//
//	c := metrics.NewCollector("ibkr")
//	c.RecordFetch("holdings", "success", time.Since(start))
//	c.RecordRetry()
//
// The orchestrator records one SyncsTotal observation per cycle and one set
// of record counters per source.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncsTotal counts sync cycles by final status
	// (success, partial, failed, cancelled).
	SyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wealthsync_syncs_total",
			Help: "Total number of sync cycles by status",
		},
		[]string{"status"},
	)

	// SourceSyncDuration tracks per-source sync durations in seconds.
	SourceSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wealthsync_source_sync_duration_seconds",
			Help:    "Duration of one source's sync in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"source", "status"},
	)

	// Records counts rows per source by outcome
	// (fetched, imported, updated, skipped).
	Records = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wealthsync_records_total",
			Help: "Rows handled per source by outcome",
		},
		[]string{"source", "outcome"},
	)

	// FetchDuration tracks individual connector fetches.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wealthsync_fetch_duration_seconds",
			Help:    "Duration of connector fetch calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "endpoint", "status"},
	)

	// Retries counts retry attempts per source.
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wealthsync_retries_total",
			Help: "Retry attempts per source",
		},
		[]string{"source"},
	)

	// LimiterWait accumulates time spent waiting on rate limiters.
	LimiterWait = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wealthsync_rate_limiter_wait_seconds_total",
			Help: "Seconds spent waiting on per-source rate limiters",
		},
		[]string{"source"},
	)

	// CacheLookups counts response cache hits and misses.
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wealthsync_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"source", "result"},
	)

	// PluginsLoaded counts plugin load attempts by result.
	PluginsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wealthsync_plugin_loads_total",
			Help: "Plugin load attempts by result",
		},
		[]string{"plugin", "result"},
	)
)

// Collector records metrics for one source.
type Collector struct {
	source string
}

// NewCollector creates a collector labelled with source.
func NewCollector(source string) *Collector {
	return &Collector{source: source}
}

// Source returns the label value.
func (c *Collector) Source() string { return c.source }

// RecordFetch observes one fetch call.
func (c *Collector) RecordFetch(endpoint, status string, d time.Duration) {
	FetchDuration.WithLabelValues(c.source, endpoint, status).Observe(d.Seconds())
}

// RecordRetry counts one retry.
func (c *Collector) RecordRetry() {
	Retries.WithLabelValues(c.source).Inc()
}

// RecordLimiterWait adds time spent waiting on the limiter.
func (c *Collector) RecordLimiterWait(d time.Duration) {
	if d > 0 {
		LimiterWait.WithLabelValues(c.source).Add(d.Seconds())
	}
}

// RecordCache counts a cache lookup.
func (c *Collector) RecordCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(c.source, result).Inc()
}

// RecordRecords adds n rows with the given outcome.
func (c *Collector) RecordRecords(outcome string, n int) {
	if n > 0 {
		Records.WithLabelValues(c.source, outcome).Add(float64(n))
	}
}

// RecordSync observes a finished source sync.
func (c *Collector) RecordSync(status string, d time.Duration) {
	SourceSyncDuration.WithLabelValues(c.source, status).Observe(d.Seconds())
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{start: time.Now(), name: name}
}

// Name returns the timer name.
func (t *Timer) Name() string { return t.name }

// Stop returns the elapsed duration since creation. It may be called
// repeatedly.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
