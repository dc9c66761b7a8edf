// Package metrics provides Prometheus metrics for the batch jobs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vetrefill"

// News item outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeError     = "error"
	OutcomeDeferred  = "deferred"
)

// Reminder outcomes.
const (
	ReminderSent         = "sent"
	ReminderFailed       = "failed"
	ReminderSkippedQuota = "skipped_quota"
)

var (
	// NewsItemsTotal counts news items by outcome.
	NewsItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "news_items_total",
			Help:      "Total number of news items handled, by outcome",
		},
		[]string{"outcome"},
	)

	// FetchedItemsTotal counts raw items returned by feeds.
	FetchedItemsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_items_total",
			Help:      "Total number of raw items fetched from feeds",
		},
	)

	// SourceFailuresTotal counts failed feed fetches by source.
	SourceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Total number of failed feed fetches",
		},
		[]string{"source"},
	)

	// RewriteFallbacksTotal counts rewrites that used the fallback.
	RewriteFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewrite_fallbacks_total",
			Help:      "Total number of rewrites answered by the fallback",
		},
	)

	// RemindersTotal counts reminder candidates by outcome.
	RemindersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_total",
			Help:      "Total number of reminder candidates handled, by outcome",
		},
		[]string{"outcome"},
	)

	// RunDuration measures pipeline run duration.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"job", "status"},
	)
)

// RecordNewsOutcome records the outcome of one news item.
func RecordNewsOutcome(outcome string) {
	NewsItemsTotal.WithLabelValues(outcome).Inc()
}

// RecordDeferred records items left for a later run.
func RecordDeferred(n int) {
	if n > 0 {
		NewsItemsTotal.WithLabelValues(OutcomeDeferred).Add(float64(n))
	}
}

// RecordFetch records the result of fetching all sources.
func RecordFetch(items int, failedSources []string) {
	FetchedItemsTotal.Add(float64(items))
	for _, src := range failedSources {
		SourceFailuresTotal.WithLabelValues(src).Inc()
	}
}

// RecordFallback records a fallback rewrite.
func RecordFallback() {
	RewriteFallbacksTotal.Inc()
}

// RecordReminder records the outcome of one reminder candidate.
func RecordReminder(outcome string) {
	RemindersTotal.WithLabelValues(outcome).Inc()
}

// RecordRun records a finished run of job.
func RecordRun(job, status string, seconds float64) {
	RunDuration.WithLabelValues(job, status).Observe(seconds)
}
