// Package metrics provides Prometheus metrics for the Medley plugin core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Command workflow metrics
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medley_directory_commands_total",
			Help: "Total directory commands processed, by operation and outcome",
		},
		[]string{"op", "status"},
	)

	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medley_directory_command_duration_seconds",
			Help:    "Directory command workflow duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Remote store metrics
	remoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medley_remote_calls_total",
			Help: "Total remote document store calls",
		},
		[]string{"op", "status"},
	)

	remoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medley_remote_call_duration_seconds",
			Help:    "Remote document store call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Tree store metrics
	storeNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "medley_directory_store_nodes",
			Help: "Number of directory nodes currently in the tree store",
		},
	)

	// Change feed metrics
	listenerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medley_listener_events_total",
			Help: "Total change-feed events received, by type",
		},
		[]string{"type"},
	)

	batchFlushSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medley_listener_batch_flush_size",
			Help:    "Number of change-feed events coalesced per batch flush",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"queue"},
	)

	sortsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "medley_directory_sorts_total",
			Help: "Total debounced re-sorts of the directory list",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCommand records one command workflow completion.
func RecordCommand(op string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	commandsTotal.WithLabelValues(op, status).Inc()
	commandDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordRemoteCall records one remote store call.
func RecordRemoteCall(op string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	remoteCallsTotal.WithLabelValues(op, status).Inc()
	remoteCallDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// SetStoreNodes sets the current tree store node count.
func SetStoreNodes(count int) {
	storeNodes.Set(float64(count))
}

// RecordListenerEvent records one received change-feed event.
func RecordListenerEvent(eventType string) {
	listenerEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordBatchFlush records the size of one coalesced batch.
func RecordBatchFlush(queue string, size int) {
	batchFlushSize.WithLabelValues(queue).Observe(float64(size))
}

// RecordSort records one debounced re-sort.
func RecordSort() {
	sortsTotal.Inc()
}
