// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines frontdesk's Prometheus collectors.
//
// Collectors are package-level and registered into [Registry] once by
// [Register]. Record helpers are safe to call before Register; the
// values simply are not exported until then.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "frontdesk"

// Registry is the registry served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "transitions_total",
			Help:      "Ticket status transitions committed, by service and target status.",
		},
		[]string{"service", "status"},
	)
	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "rejections_total",
			Help:      "Queue operations that returned an error, by operation and error kind.",
		},
		[]string{"operation", "kind"},
	)
	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "operation_duration_seconds",
			Help:      "Latency of queue operations including lock wait and store round trips.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)

	waiting = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "waiting",
			Help:      "Tickets waiting per service at the last statistics refresh.",
		},
		[]string{"service"},
	)
	serving = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "serving",
			Help:      "Tickets called or in progress per service at the last statistics refresh.",
		},
		[]string{"service"},
	)
	estimatedWait = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "estimated_wait_minutes",
			Help:      "Estimated wait for a student joining now.",
		},
		[]string{"service"},
	)
	averageService = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "average_service_minutes",
			Help:      "Load-adjusted average service time.",
		},
		[]string{"service"},
	)
	completedToday = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "completed_today",
			Help:      "Tickets completed since local midnight.",
		},
		[]string{"service"},
	)

	refreshFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "refresh_failures_total",
			Help:      "Statistics refreshes that failed, by service.",
		},
		[]string{"service"},
	)
	refreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "refresh_cycle_seconds",
			Help:      "Duration of one refresh cycle across all active services.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	broadcastDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "delivered_total",
			Help:      "Events delivered to subscribers, by topic kind.",
		},
		[]string{"topic"},
	)
	broadcastDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "dropped_total",
			Help:      "Events dropped on subscriber overflow, by topic kind.",
		},
		[]string{"topic"},
	)
	subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Live subscribe streams.",
		},
	)
)

var registerMetrics sync.Once

// Register adds every collector, plus the Go runtime and process
// collectors, to Registry.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(
			transitions,
			rejections,
			operationDuration,
			waiting,
			serving,
			estimatedWait,
			averageService,
			completedToday,
			refreshFailures,
			refreshDuration,
			broadcastDelivered,
			broadcastDropped,
			subscribers,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// RecordTransition counts a committed move into status.
func RecordTransition(serviceID, status string) {
	transitions.WithLabelValues(serviceID, status).Inc()
}

// RecordRejection counts an operation that failed with an error of
// the given kind.
func RecordRejection(operation, kind string) {
	rejections.WithLabelValues(operation, kind).Inc()
}

// RecordOperationDuration observes the latency of one operation.
func RecordOperationDuration(operation string, elapsed time.Duration) {
	operationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ServiceGauges is one service's refreshed statistics.
type ServiceGauges struct {
	Waiting               int
	Serving               int
	EstimatedWaitMinutes  float64
	AverageServiceMinutes float64
	CompletedToday        int
}

// RecordServiceGauges sets the per-service gauges.
func RecordServiceGauges(serviceID string, gauges ServiceGauges) {
	waiting.WithLabelValues(serviceID).Set(float64(gauges.Waiting))
	serving.WithLabelValues(serviceID).Set(float64(gauges.Serving))
	estimatedWait.WithLabelValues(serviceID).Set(gauges.EstimatedWaitMinutes)
	averageService.WithLabelValues(serviceID).Set(gauges.AverageServiceMinutes)
	completedToday.WithLabelValues(serviceID).Set(float64(gauges.CompletedToday))
}

// RecordRefreshFailure counts a failed refresh for one service.
func RecordRefreshFailure(serviceID string) {
	refreshFailures.WithLabelValues(serviceID).Inc()
}

// RecordRefreshCycle observes the duration of one refresh cycle.
func RecordRefreshCycle(elapsed time.Duration) {
	refreshDuration.Observe(elapsed.Seconds())
}

// RecordBroadcastDelivered and RecordBroadcastDropped take a topic
// kind ("service", "user", "admin", "queue"), never a full topic.
func RecordBroadcastDelivered(topicKind string) {
	broadcastDelivered.WithLabelValues(topicKind).Inc()
}

func RecordBroadcastDropped(topicKind string) {
	broadcastDropped.WithLabelValues(topicKind).Inc()
}

// AddSubscribers adjusts the live subscriber gauge by delta.
func AddSubscribers(delta int) {
	subscribers.Add(float64(delta))
}
