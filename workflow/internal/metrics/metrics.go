// Package metrics mirrors the reference engine's internal/metrics package:
// a handful of process-global prometheus collectors, labelled by workflow
// name, that every Workflow instance reports into.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TasksExecuted counts every on_task_end dispatch.
	TasksExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workflow",
			Name:      "tasks_executed_total",
			Help:      "Number of tasks that have completed execution.",
		},
		[]string{"workflow", "task"},
	)

	// Iterations counts loop wraps.
	Iterations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workflow",
			Name:      "iterations_total",
			Help:      "Number of loop iterations started.",
		},
		[]string{"workflow"},
	)

	// HookReentrancyRejections counts control calls refused because they
	// originated from inside a hook.
	HookReentrancyRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workflow",
			Name:      "hook_reentrancy_rejections_total",
			Help:      "Control operations refused because they were invoked from inside a hook.",
		},
		[]string{"workflow", "operation"},
	)

	// ActiveWorkflows is a gauge of workflows currently in RUNNING or PAUSED.
	ActiveWorkflows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "workflow",
			Name:      "active",
			Help:      "Number of workflow runs currently active (running or paused).",
		},
		[]string{"workflow"},
	)
)

func init() {
	prometheus.MustRegister(TasksExecuted, Iterations, HookReentrancyRejections, ActiveWorkflows)
}
