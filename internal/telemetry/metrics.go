// Package telemetry holds the process-wide prometheus collectors.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "formview"

var (
	RankFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rank_failures_total",
		Help:      "The total number of rank computations that failed and fell back to the configured start.",
	})

	RankBackoffSkips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rank_backoff_skips_total",
		Help:      "The total number of rank computations skipped because a failure marker was live.",
	})

	TotalCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "total_cache_hits_total",
		Help:      "The total number of collection totals served from the aggregate cache.",
	})

	TotalCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "total_cache_misses_total",
		Help:      "The total number of collection totals computed against the record store.",
	})

	DeduplicatedTotals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deduplicated_total_queries_total",
		Help:      "The total number of total computations shared through singleflight de-duplication.",
	})

	StoreQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_queries_total",
		Help:      "The total number of record store calls issued by the composition engine.",
	}, []string{"operation", "projection"})
)
