package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's instrumentation, registered on the configured
// Registerer.
type Metrics struct {
	locksTotal       prometheus.Counter
	lockRollbacks    prometheus.Counter
	swapsTotal       prometheus.Counter
	swapDuration     *prometheus.HistogramVec
	positionUpdates  prometheus.Counter
	ticksCrossed     prometheus.Counter
	poolsInitialized prometheus.Counter
}

// NewMetrics creates and registers the engine metrics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		locksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amm_engine",
			Name:      "locks_total",
			Help:      "Number of locker contexts opened, including nested ones.",
		}),
		lockRollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amm_engine",
			Name:      "lock_rollbacks_total",
			Help:      "Number of root operations aborted and rolled back.",
		}),
		swapsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amm_engine",
			Name:      "swaps_total",
			Help:      "Number of swaps executed.",
		}),
		swapDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "amm_engine",
			Name:      "swap_duration_seconds",
			Help:      "Wall time of swap execution.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{}),
		positionUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amm_engine",
			Name:      "position_updates_total",
			Help:      "Number of position liquidity updates.",
		}),
		ticksCrossed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amm_engine",
			Name:      "ticks_crossed_total",
			Help:      "Number of initialized ticks crossed by swaps.",
		}),
		poolsInitialized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amm_engine",
			Name:      "pools_initialized_total",
			Help:      "Number of pools initialized.",
		}),
	}

	registry.MustRegister(
		m.locksTotal,
		m.lockRollbacks,
		m.swapsTotal,
		m.swapDuration,
		m.positionUpdates,
		m.ticksCrossed,
		m.poolsInitialized,
	)
	return m
}
