// Package metrics exposes the process-wide Prometheus instruments. All
// counters live on the default registry and are served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FilingsDetected counts filings surfaced by the poller, pre-dedup.
	FilingsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spacwatch_filings_detected_total",
		Help: "Filings detected by the feed poller.",
	})

	// FilingsLogged counts filings durably written to the filing log.
	FilingsLogged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spacwatch_filings_logged_total",
		Help: "Filings recorded in the filing log after dispatch.",
	})

	// PollErrors counts per-entity poll failures.
	PollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spacwatch_poll_errors_total",
		Help: "Per-entity feed poll failures.",
	})

	// LLMCalls counts outbound model calls, by outcome.
	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacwatch_llm_calls_total",
		Help: "Outbound LLM calls.",
	}, []string{"outcome"})

	// AlertsSent counts operator alerts that passed deduplication.
	AlertsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spacwatch_alerts_sent_total",
		Help: "Alerts delivered to the operator chat.",
	})

	// ValidationIssues counts issues by severity across sweeps.
	ValidationIssues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacwatch_validation_issues_total",
		Help: "Validation issues found, by severity.",
	}, []string{"severity"})

	// QueueDepth is the pending item count of the active review queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spacwatch_review_queue_depth",
		Help: "Pending items in the active review queue.",
	})

	// TrackedEntities is the size of the active portfolio.
	TrackedEntities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spacwatch_tracked_entities",
		Help: "Entities currently tracked.",
	})
)
