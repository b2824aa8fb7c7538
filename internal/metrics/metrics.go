// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Merge results used as the "result" label.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultError    = "error"
)

var (
	MergeBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nailguard_merge_batches_total",
			Help: "Total number of sync batches processed, by result",
		},
		[]string{"result"},
	)

	MergeEventsReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nailguard_merge_events_received_total",
			Help: "Total number of events received in accepted sync batches",
		},
	)

	EventsInsertedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nailguard_events_inserted_total",
			Help: "Total number of events newly added to the store",
		},
	)

	MergeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nailguard_merge_duration_seconds",
			Help:    "Duration of sync batch merges",
			Buckets: prometheus.DefBuckets,
		},
	)

	BackupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nailguard_backups_total",
			Help: "Total number of store backup attempts, by result",
		},
		[]string{"result"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nailguard_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry.
// Calling it more than once is a no-op.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(MergeBatchesTotal)
		prometheus.MustRegister(MergeEventsReceivedTotal)
		prometheus.MustRegister(EventsInsertedTotal)
		prometheus.MustRegister(MergeDuration)
		prometheus.MustRegister(BackupsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
	})
}
