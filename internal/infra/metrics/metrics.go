// Package metrics provides Prometheus metrics for a torrentnode process:
// task execution, distribution, ledger movements, swarm and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Execution ──────────────────────────────────────────────────────────────

// TasksExecuted tracks tasks executed locally by kind and outcome state.
var TasksExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "torrentnode",
	Name:      "tasks_executed_total",
	Help:      "Total tasks executed locally.",
}, []string{"kind", "state"})

// TasksFailed tracks failed executions by kind and failure kind.
var TasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "torrentnode",
	Name:      "tasks_failed_total",
	Help:      "Total failed executions.",
}, []string{"kind", "reason"})

// TasksActive tracks currently executing tasks.
var TasksActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "torrentnode",
	Name:      "tasks_active",
	Help:      "Number of currently executing tasks.",
})

// ExecutionDuration tracks sandbox wall time per task kind.
var ExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "torrentnode",
	Name:      "execution_duration_seconds",
	Help:      "Sandboxed execution wall time in seconds.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
}, []string{"kind"})

// ExecutionPeakMemory tracks peak resident memory of sandbox workers.
var ExecutionPeakMemory = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "torrentnode",
	Name:      "execution_peak_memory_bytes",
	Help:      "Peak resident memory of sandbox workers.",
	Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 12),
})

// ─── Distribution ───────────────────────────────────────────────────────────

// TasksDistributed tracks tasks published by this node.
var TasksDistributed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "torrentnode",
	Name:      "tasks_distributed_total",
	Help:      "Total tasks published to the swarm.",
}, []string{"kind"})

// TasksPending tracks distributed tasks still awaiting a result.
var TasksPending = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "torrentnode",
	Name:      "tasks_pending",
	Help:      "Distributed tasks awaiting a result.",
})

// ResultsReceived tracks result envelopes by verification outcome.
var ResultsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "torrentnode",
	Name:      "results_received_total",
	Help:      "Result envelopes received, by outcome.",
}, []string{"outcome"})

// TasksRejected tracks incoming tasks dropped before execution.
var TasksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "torrentnode",
	Name:      "tasks_rejected_total",
	Help:      "Incoming tasks rejected before execution.",
}, []string{"reason"})

// ─── Ledger ─────────────────────────────────────────────────────────────────

// LedgerOperations tracks ledger operations by type and outcome.
var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "torrentnode",
	Name:      "ledger_operations_total",
	Help:      "Ledger operations by type and outcome.",
}, []string{"op", "outcome"})

// TokensRewarded tracks tokens credited as task rewards.
var TokensRewarded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "torrentnode",
	Name:      "tokens_rewarded_total",
	Help:      "Total tokens credited as task rewards.",
})

// ─── Swarm ──────────────────────────────────────────────────────────────────

// PeersKnown tracks peers in the node's peer table.
var PeersKnown = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "torrentnode",
	Name:      "peers_known",
	Help:      "Number of peers in the peer table.",
})

// SwarmBytes tracks content bytes moved by direction.
var SwarmBytes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "torrentnode",
	Name:      "swarm_bytes_total",
	Help:      "Content bytes transferred, by direction.",
}, []string{"direction"})

// SwarmSeeding tracks content ids currently seeded.
var SwarmSeeding = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "torrentnode",
	Name:      "swarm_seeding",
	Help:      "Number of content ids seeded by this node.",
})

// DownloadsActive tracks in-flight content downloads.
var DownloadsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "torrentnode",
	Name:      "downloads_active",
	Help:      "Number of in-flight content downloads.",
})

// ResultBreakerState tracks the result delivery circuit breaker
// (0=closed, 1=half-open, 2=open).
var ResultBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "torrentnode",
	Name:      "result_breaker_state",
	Help:      "Result delivery circuit breaker state (0=closed, 1=half-open, 2=open).",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "torrentnode",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// RetryQueueDepth tracks work items waiting for another attempt.
var RetryQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "torrentnode",
	Name:      "retry_queue_depth",
	Help:      "Work items waiting for a retry.",
})
