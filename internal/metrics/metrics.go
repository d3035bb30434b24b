// Package metrics exposes Prometheus counters for the triage engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics
var (
	EmailsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxflow_emails_processed_total",
			Help: "Emails run through the triage pipeline",
		},
		[]string{"account", "outcome"},
	)

	RulesEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxflow_rules_evaluated_total",
			Help: "Rule condition evaluations",
		},
		[]string{"account", "outcome"},
	)

	ActionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxflow_actions_executed_total",
			Help: "Resolved actions executed, by type and result",
		},
		[]string{"type", "result"},
	)

	ReasoningCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxflow_reasoning_calls_total",
			Help: "Calls to the reasoning provider",
		},
		[]string{"kind", "status"},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inboxflow_pipeline_duration_seconds",
			Help:    "End-to-end duration of one email through the pipeline",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)
)

// Scheduler metrics
var (
	ScheduledActions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inboxflow_scheduled_actions_total",
			Help: "Actions handed to the delay scheduler",
		},
	)

	ApprovalsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inboxflow_approvals_pending",
			Help: "Actions currently parked for approval",
		},
	)
)
