package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Kernel ──────────────────────────────────────────────────────────────────

	KernelTasksSpawned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskkernel",
		Subsystem: "kernel",
		Name:      "tasks_spawned_total",
		Help:      "Total tasks allocated a slot in the task table.",
	})

	KernelTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskkernel",
		Subsystem: "kernel",
		Name:      "transitions_total",
		Help:      "Total lifecycle transitions, labelled by the status entered.",
	}, []string{"status"})

	KernelInvalidTransitionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskkernel",
		Subsystem: "kernel",
		Name:      "invalid_transitions_total",
		Help:      "Transitions rejected in strict mode.",
	})

	KernelTasksByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "taskkernel",
		Subsystem: "kernel",
		Name:      "tasks",
		Help:      "Tasks currently held in the task table, by status.",
	}, []string{"status"})

	KernelTaskRuntimeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "taskkernel",
		Subsystem: "kernel",
		Name:      "task_runtime_seconds",
		Help:      "Time from first schedule to exit.",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
	})

	// ─── Syscalls ────────────────────────────────────────────────────────────────

	SyscallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskkernel",
		Subsystem: "syscall",
		Name:      "invocations_total",
		Help:      "Handled system calls, labelled by syscall name.",
	}, []string{"syscall"})

	SyscallsUnknownTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskkernel",
		Subsystem: "syscall",
		Name:      "unknown_total",
		Help:      "System calls with no registered handler.",
	})

	// ─── Exporter ────────────────────────────────────────────────────────────────

	ExporterSnapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskkernel",
		Subsystem: "exporter",
		Name:      "snapshots_total",
		Help:      "Snapshots pushed to the cache, labelled by result.",
	}, []string{"result"})

	// ─── Events ──────────────────────────────────────────────────────────────────

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskkernel",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Lifecycle events published, labelled by result.",
	}, []string{"result"})

	// ─── Auditor ─────────────────────────────────────────────────────────────────

	AuditExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskkernel",
		Subsystem: "auditor",
		Name:      "exits_total",
		Help:      "Exit events handled by the auditor, labelled by result.",
	}, []string{"result"})

	// ─── API ─────────────────────────────────────────────────────────────────────

	APIRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskkernel",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Introspection requests rejected by the rate limiter.",
	})
)
