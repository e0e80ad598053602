package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Handling outcomes.
const (
	outcomeProcessed    = "processed"
	outcomeHandlerError = "handler_error"
)

var (
	consumedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduling_service",
		Subsystem: "consumer",
		Name:      "events_consumed_total",
		Help:      "Schedule and streak events read from Kafka, by event type and outcome.",
	}, []string{"event_type", "outcome"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduling_service",
		Subsystem: "consumer",
		Name:      "decode_errors_total",
		Help:      "Records skipped before reaching a handler, by topic and reason.",
	}, []string{"topic", "reason"})

	deliveryLag = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduling_service",
		Subsystem: "consumer",
		Name:      "event_lag_seconds",
		Help:      "Time from the domain change committing to the consumer handling it.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"event_type"})

	staleSnapshotCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduling_service",
		Subsystem: "consumer",
		Name:      "stale_streak_updates_total",
		Help:      "streak.updated events older than the stored snapshot.",
	})
)

func init() {
	prometheus.MustRegister(consumedCounter, decodeErrorCounter, deliveryLag, staleSnapshotCounter)
}

func recordHandled(msg Message, outcome string) {
	consumedCounter.WithLabelValues(msg.EventType, outcome).Inc()
	if outcome != outcomeProcessed || msg.Body == nil {
		return
	}
	if at := msg.Body.OccurredAt(); !at.IsZero() {
		deliveryLag.WithLabelValues(msg.EventType).Observe(time.Since(at).Seconds())
	}
}

func recordDecodeError(topic, reason string) {
	decodeErrorCounter.WithLabelValues(topic, reason).Inc()
}
