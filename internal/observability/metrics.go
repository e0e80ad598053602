// Package observability holds the engine's Prometheus collectors.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activityPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduling_service",
		Subsystem: "persistence",
		Name:      "last_activity_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent scheduled activity write.",
	})
	completionPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduling_service",
		Subsystem: "persistence",
		Name:      "last_completion_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completion history append.",
	})

	scheduleOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduling_service",
		Subsystem: "engine",
		Name:      "schedule_requests_total",
		Help:      "Schedule and reschedule requests by outcome (created, conflict, invalid).",
	}, []string{"outcome"})

	conflictCheckFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduling_service",
		Subsystem: "engine",
		Name:      "conflict_check_failures_total",
		Help:      "Conflict checks that failed closed because the event store could not be read.",
	})

	completions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduling_service",
		Subsystem: "engine",
		Name:      "completions_total",
		Help:      "Activities transitioned to completed, by activity type.",
	}, []string{"activity_type"})

	streakLength = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scheduling_service",
		Subsystem: "engine",
		Name:      "streak_length_days",
		Help:      "Current streak length observed after each streak update.",
		Buckets:   []float64{1, 2, 3, 5, 7, 14, 30, 60, 100, 365},
	})
)

func init() {
	prometheus.MustRegister(activityPersistGauge, completionPersistGauge, scheduleOutcomes, conflictCheckFailures, completions, streakLength)
}

// RecordActivityPersisted updates the persistence watermark gauge.
func RecordActivityPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityPersistGauge.Set(float64(ts.Unix()))
}

// RecordCompletionPersisted updates the history watermark gauge.
func RecordCompletionPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	completionPersistGauge.Set(float64(ts.Unix()))
}

// RecordScheduleOutcome counts a schedule/reschedule result.
func RecordScheduleOutcome(outcome string) {
	scheduleOutcomes.WithLabelValues(outcome).Inc()
}

// RecordConflictCheckFailure counts a fail-closed conflict check.
func RecordConflictCheckFailure() {
	conflictCheckFailures.Inc()
}

// RecordCompletion counts a completed activity.
func RecordCompletion(activityType string) {
	completions.WithLabelValues(activityType).Inc()
}

// ObserveStreak records a streak length after an update.
func ObserveStreak(days int) {
	streakLength.Observe(float64(days))
}

// ScheduleOutcomeCounter exposes the outcome counter for assertions in tests.
func ScheduleOutcomeCounter(outcome string) prometheus.Counter {
	return scheduleOutcomes.WithLabelValues(outcome)
}

// ConflictCheckFailureCounter exposes the fail-closed counter for assertions in tests.
func ConflictCheckFailureCounter() prometheus.Counter {
	return conflictCheckFailures
}
