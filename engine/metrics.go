package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// 执行总数
	engineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pants",
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Total execution runs",
		},
		[]string{"status"},
	)

	// 执行耗时
	engineRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pants",
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Execution run latency",
			Buckets:   prometheus.DefBuckets,
		},
	)

	engineRunnablesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pants",
			Subsystem: "engine",
			Name:      "runnables_total",
			Help:      "Total runnables dispatched to the worker pool",
		},
	)

	engineInvalidatedNodes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pants",
			Subsystem: "engine",
			Name:      "invalidated_nodes_total",
			Help:      "Total product graph nodes dirtied by invalidation",
		},
	)
)

func init() {
	// 注册指标
	prometheus.MustRegister(engineRunsTotal, engineRunDuration, engineRunnablesTotal, engineInvalidatedNodes)
}
