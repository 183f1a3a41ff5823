// Package metrics exposes Prometheus collectors for the goldwatch pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "goldwatch"

var (
	// IngestCycles counts ingestion outcomes per city and result
	// (fresh, stale, failed).
	IngestCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "cycles_total",
		Help:      "Ingestion cycle outcomes by city and result.",
	}, []string{"city", "result"})

	// SourceRejections counts per-source failures, including sanity-bound
	// rejections.
	SourceRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "source_rejections_total",
		Help:      "Ranked-source failures by source and reason.",
	}, []string{"source", "reason"})

	// TriggerEvents counts alert trigger events by condition.
	TriggerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "trigger_events_total",
		Help:      "Alert trigger events by condition.",
	}, []string{"condition"})

	// DispatchResults counts dispatch outcomes (delivered, deferred, failed).
	DispatchResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "results_total",
		Help:      "Message dispatch outcomes.",
	}, []string{"outcome"})

	// JobSkips counts scheduler fires skipped because the prior run of the
	// same job was still in progress.
	JobSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "job_skips_total",
		Help:      "Scheduled fires skipped due to an in-progress run.",
	}, []string{"job"})

	// JobRuns counts completed job runs by terminal outcome.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "job_runs_total",
		Help:      "Job runs by terminal outcome.",
	}, []string{"job", "outcome"})
)
