// Package metrics exposes Prometheus instruments for a dev session.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CompositionsTotal counts composition decisions by outcome
// (success, failure, deferred).
var CompositionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "graphdev_compositions_total",
		Help: "Composition decisions by outcome",
	},
	[]string{"outcome"},
)

// CompositionDuration tracks how long the composer took.
var CompositionDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "graphdev_composition_duration_seconds",
		Help:    "Time spent composing the supergraph",
		Buckets: prometheus.DefBuckets,
	},
)

// SubgraphFetchFailuresTotal counts failed subgraph fetches.
var SubgraphFetchFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "graphdev_subgraph_fetch_failures_total",
		Help: "Failed subgraph fetches",
	},
	[]string{"subgraph"},
)

// SubgraphEvictionsTotal counts subgraphs removed after exhausting their
// retry budget.
var SubgraphEvictionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "graphdev_subgraph_evictions_total",
		Help: "Subgraphs evicted after exhausting their retry budget",
	},
	[]string{"subgraph"},
)

// HotReloadWritesTotal counts hot-reload file writes by file and result.
var HotReloadWritesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "graphdev_hot_reload_writes_total",
		Help: "Hot-reload file writes",
	},
	[]string{"file", "result"},
)

// RouterHealthFailuresTotal counts failed router health checks.
var RouterHealthFailuresTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "graphdev_router_health_failures_total",
		Help: "Failed router health checks",
	},
)

// LoadedSubgraphs is the number of subgraphs in the composition map.
var LoadedSubgraphs = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "graphdev_loaded_subgraphs",
		Help: "Subgraphs currently in the composition map",
	},
)
