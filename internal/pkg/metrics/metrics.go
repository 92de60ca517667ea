// Package metrics provides process-local Prometheus metrics scraped from
// the daemon's own /metrics endpoint. No metrics leave the machine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "helm"

var (
	// HTTPRequestTotal counts requests by method, path, status.
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram.
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
		},
		[]string{"method", "path"},
	)

	// WebSocketConnectionsActive is current number of subscribed menu-bar
	// clients.
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Number of active event-stream subscribers.",
		},
	)

	// TaskExecTotal counts adapter task executions by manager, task type
	// and outcome.
	TaskExecTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_exec_total",
			Help:      "Total number of task executions by manager, task type and outcome.",
		},
		[]string{"manager_id", "task_type", "outcome"}, // outcome: completed, failed, cancelled
	)

	// TaskExecDurationSeconds is task execution duration histogram.
	TaskExecDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_exec_duration_seconds",
			Help:      "Task execution duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
		},
		[]string{"manager_id", "task_type"},
	)

	// TaskQueueDepth is the current number of queued-or-running tasks per
	// manager lane.
	TaskQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_queue_depth",
			Help:      "Number of queued or running tasks by manager.",
		},
		[]string{"manager_id"},
	)

	// ProcessExecTotal counts subprocess invocations by manager and
	// outcome (success, timeout, killed, error).
	ProcessExecTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_exec_total",
			Help:      "Total number of subprocess invocations by manager and outcome.",
		},
		[]string{"manager_id", "outcome"},
	)

	// DBQueryDurationSeconds tracks database query latency by operation
	// type.
	DBQueryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"operation"},
	)

	// SearchCacheHitsTotal and SearchCacheMissesTotal track the remote
	// search result cache.
	SearchCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_cache_hits_total",
			Help:      "Total number of search cache hits.",
		},
	)

	SearchCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_cache_misses_total",
			Help:      "Total number of search cache misses.",
		},
	)
)
