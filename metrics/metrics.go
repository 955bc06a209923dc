// Package metrics holds the Prometheus collectors of chatkeep.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkeep_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatkeep_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Business metrics
	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatkeep_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	MessagesAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatkeep_messages_added_total",
			Help: "Total messages written, resends included",
		},
	)

	ImportBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkeep_import_batches_total",
			Help: "Message batches processed by bulk import",
		},
		[]string{"result"}, // "ok" or "failed"
	)

	// Storage metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatkeep_store_operation_duration_seconds",
			Help:    "Key-value store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"backend", "op"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkeep_store_errors_total",
			Help: "Key-value store operations that failed",
		},
		[]string{"backend", "op"},
	)

	ConditionalUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkeep_store_conditional_updates_total",
			Help: "Conditional updates by outcome",
		},
		[]string{"backend", "written"},
	)
)
