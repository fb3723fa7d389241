// Package-level Prometheus metrics for the ledger engine.
// Exposed over /metrics by the API server.
package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_mutations_total",
		Help: "Committed chain mutations by operation.",
	}, []string{"op"})

	conflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_conflicts_total",
		Help: "Mutations rejected by the chain-version commit check.",
	})

	lockTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_lock_timeouts_total",
		Help: "Mutations that failed to acquire a customer gate in time.",
	})

	cascadeDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_cascade_depth",
		Help:    "Number of downstream transactions recomputed per edit/delete.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)
