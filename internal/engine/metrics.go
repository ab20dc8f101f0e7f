package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeMatched   = "matched"
	outcomeContested = "contested"
	outcomeNoMatch   = "no_match"
)

var (
	resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "factord",
		Subsystem: "engine",
		Name:      "resolve_total",
		Help:      "Resolve queries by outcome.",
	}, []string{"outcome"})

	resolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "factord",
		Subsystem: "engine",
		Name:      "resolve_duration_seconds",
		Help:      "Resolve query latency.",
		Buckets:   prometheus.DefBuckets,
	})

	appendTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "factord",
		Subsystem: "engine",
		Name:      "evidence_appends_total",
		Help:      "Committed evidence appends.",
	})

	conflictTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "factord",
		Subsystem: "engine",
		Name:      "version_conflicts_total",
		Help:      "Optimistic concurrency conflicts observed during appends.",
	})

	contestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "factord",
		Subsystem: "engine",
		Name:      "contested_instances_total",
		Help:      "Appends that moved an instance into the contested state.",
	})
)
