// Package metrics provides Prometheus metrics for the reservation core.
// No cardinality explosion: no lease or event IDs in labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsExecutedTotal counts executed scheduler events by type and outcome.
	EventsExecutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservd_events_executed_total",
		Help: "Total number of executed lease events, by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// EventRetriesTotal counts events reset to UNDONE after InvalidStatus.
	EventRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservd_event_retries_total",
		Help: "Total number of event retries after a transitional lease status.",
	}, []string{"event_type"})

	// SchedulerTickDuration observes the duration of one scheduler tick.
	SchedulerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reservd_scheduler_tick_duration_seconds",
		Help:    "Duration of one event scheduler tick.",
		Buckets: prometheus.DefBuckets,
	})

	// LeaseOperationsTotal counts orchestrator operations by method and outcome.
	LeaseOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservd_lease_operations_total",
		Help: "Total number of lease operations, by method and outcome.",
	}, []string{"method", "outcome"})

	// NotificationFailuresTotal counts dropped notification publishes.
	NotificationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservd_notification_failures_total",
		Help: "Total number of failed notification publishes, by event name.",
	}, []string{"event"})

	// EventsInFlight tracks currently executing event workers.
	EventsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reservd_events_in_flight",
		Help: "Current number of executing event workers.",
	})
)

// RecordEventOutcome increments the execution counter for one event.
func RecordEventOutcome(eventType, outcome string) {
	EventsExecutedTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordLeaseOperation increments the lease operation counter.
func RecordLeaseOperation(method, outcome string) {
	LeaseOperationsTotal.WithLabelValues(method, outcome).Inc()
}
