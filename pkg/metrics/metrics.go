// Package metrics defines the Prometheus collectors exported by qcache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tier and outcome label values.
const (
	TierMemory = "memory"
	TierDisk   = "disk"

	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeExpired = "expired"
	OutcomeCorrupt = "corrupt"
	OutcomeError   = "error"
)

// Metrics holds all Prometheus metrics for the cache, template and analyzer
// layers.
type Metrics struct {
	CacheLookupsTotal       *prometheus.CounterVec
	CacheEvictionsTotal     prometheus.Counter
	CachePersistErrorsTotal prometheus.Counter
	CacheCompactedTotal     prometheus.Counter
	CacheEntries            *prometheus.GaugeVec

	TemplateMatchesTotal  prometheus.Counter
	TemplateRejectedTotal prometheus.Counter

	QueriesLoggedTotal prometheus.Counter
	ResolveDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg yields
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheLookupsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qcache",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by tier and outcome",
		}, []string{"tier", "outcome"}),
		CacheEvictionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "qcache",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Memory tier LRU evictions",
		}),
		CachePersistErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "qcache",
			Subsystem: "cache",
			Name:      "persist_errors_total",
			Help:      "Failed writes to the persistent tier",
		}),
		CacheCompactedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "qcache",
			Subsystem: "cache",
			Name:      "compacted_total",
			Help:      "Entries removed by background compaction",
		}),
		CacheEntries: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "qcache",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries currently held per tier",
		}, []string{"tier"}),
		TemplateMatchesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "qcache",
			Subsystem: "template",
			Name:      "matches_total",
			Help:      "Questions answered by a template",
		}),
		TemplateRejectedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "qcache",
			Subsystem: "template",
			Name:      "rejected_total",
			Help:      "Templates rejected at load time",
		}),
		QueriesLoggedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "qcache",
			Subsystem: "analyzer",
			Name:      "queries_logged_total",
			Help:      "Query log records written",
		}),
		ResolveDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qcache",
			Subsystem: "engine",
			Name:      "resolve_duration_seconds",
			Help:      "Question resolution latency by source",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"source"}),
	}
}
