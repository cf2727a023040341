// Package metrics provides Prometheus metrics for the leafsync client.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Real-time channel metrics
	channelEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafsync_channel_events_total",
			Help: "Real-time events dispatched, by event name and outcome",
		},
		[]string{"event", "status"},
	)

	channelConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "leafsync_channel_connected",
			Help: "1 while the real-time channel is connected",
		},
		[]string{"transport"},
	)

	channelReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafsync_channel_reconnects_total",
			Help: "Real-time channel reconnect attempts",
		},
		[]string{"transport"},
	)

	// Tree state metrics
	treeNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leafsync_tree_nodes",
			Help: "Number of entities in the local file tree",
		},
	)

	selectedEntities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leafsync_selected_entities",
			Help: "Number of selected entities",
		},
	)

	// Linked file metrics
	linkedFileRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafsync_linked_file_refresh_total",
			Help: "Linked file refresh requests, by provider and outcome",
		},
		[]string{"provider", "status"},
	)

	referenceReindexTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafsync_reference_reindex_total",
			Help: "Reference reindex requests, by outcome",
		},
		[]string{"status"},
	)

	referenceKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leafsync_reference_keys",
			Help: "Number of bibliography keys from the last reindex",
		},
	)

	// Download and storage metrics
	downloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leafsync_download_bytes_total",
			Help: "Total bytes downloaded from project files",
		},
	)

	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leafsync_storage_operation_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafsync_storage_operations_total",
			Help: "Total storage backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// Migration metrics
	migrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leafsync_migrations_total",
			Help: "Migrations run, by direction and outcome",
		},
		[]string{"direction", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordChannelEvent records a dispatched real-time event.
func RecordChannelEvent(event string, success bool) {
	channelEventsTotal.WithLabelValues(event, status(success)).Inc()
}

// SetChannelConnected sets the connection gauge for a transport.
func SetChannelConnected(transport string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	channelConnected.WithLabelValues(transport).Set(v)
}

// RecordChannelReconnect records a reconnect attempt.
func RecordChannelReconnect(transport string) {
	channelReconnectsTotal.WithLabelValues(transport).Inc()
}

// SetTreeNodes sets the local tree size.
func SetTreeNodes(n int) {
	treeNodes.Set(float64(n))
}

// SetSelectedEntities sets the selection size.
func SetSelectedEntities(n int) {
	selectedEntities.Set(float64(n))
}

// RecordLinkedFileRefresh records a refresh request outcome.
func RecordLinkedFileRefresh(provider string, success bool) {
	linkedFileRefreshTotal.WithLabelValues(provider, status(success)).Inc()
}

// RecordReferenceReindex records a reindex outcome and, on success, the
// number of keys returned.
func RecordReferenceReindex(keys int, success bool) {
	referenceReindexTotal.WithLabelValues(status(success)).Inc()
	if success {
		referenceKeys.Set(float64(keys))
	}
}

// RecordDownload records downloaded bytes.
func RecordDownload(bytes int64) {
	downloadBytesTotal.Add(float64(bytes))
}

// RecordStorageOperation records a storage backend operation.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storageOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// RecordMigration records a migration run in the given direction.
func RecordMigration(direction string, success bool) {
	migrationsTotal.WithLabelValues(direction, status(success)).Inc()
}
