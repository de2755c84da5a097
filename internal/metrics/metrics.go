// Package metrics exposes the engine's Prometheus metrics (SPEC_FULL.md §6):
// package-level Init guarded by sync.Once, a promhttp handler, and the named
// metric set the engine emits.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	indexingFunctionDuration *prometheus.HistogramVec
	indexingEventsProcessed  *prometheus.CounterVec
	syncReorgTotal           *prometheus.CounterVec
	syncReorgDepth           *prometheus.HistogramVec
	databaseRevertRows       *prometheus.CounterVec
	databaseFinalizedRows    *prometheus.CounterVec
	settingsInfo             *prometheus.GaugeVec
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			indexingFunctionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name: "indexing_function_duration",
				Help: "Duration of handler invocations, in seconds",
			}, []string{"event"}),
			indexingEventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "indexing_events_processed_total",
				Help: "Total number of events dispatched to handlers",
			}, []string{"event"}),
			syncReorgTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "sync_reorg_total",
				Help: "Total number of reorgs detected",
			}, []string{"chain"}),
			syncReorgDepth: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name: "sync_reorg_depth",
				Help: "Depth (in blocks) of detected reorgs",
			}, []string{"chain"}),
			databaseRevertRows: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "database_revert_rows_total",
				Help: "Total number of rows reverted during reorg reconciliation",
			}, []string{"table"}),
			databaseFinalizedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "database_finalized_rows_total",
				Help: "Total number of shadow rows dropped by finalization",
			}, []string{"table"}),
			settingsInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "settings_info",
				Help: "Static build/run settings, exposed as labels on a constant gauge",
			}, []string{"ordering", "database", "command"}),
		}
		prometheus.MustRegister(
			metrics.indexingFunctionDuration,
			metrics.indexingEventsProcessed,
			metrics.syncReorgTotal,
			metrics.syncReorgDepth,
			metrics.databaseRevertRows,
			metrics.databaseFinalizedRows,
			metrics.settingsInfo,
		)
	})
	return metrics
}

// ObserveIndexingDuration records how long a handler took to run.
func (m *Metrics) ObserveIndexingDuration(event string, seconds float64) {
	if m != nil {
		m.indexingFunctionDuration.WithLabelValues(event).Observe(seconds)
	}
}

// EventsProcessed increments the processed-event counter for a handler.
func (m *Metrics) EventsProcessed(event string) {
	if m != nil {
		m.indexingEventsProcessed.WithLabelValues(event).Inc()
	}
}

// ReorgDetected records a detected reorg and its depth in blocks.
func (m *Metrics) ReorgDetected(chain string, depth float64) {
	if m != nil {
		m.syncReorgTotal.WithLabelValues(chain).Inc()
		m.syncReorgDepth.WithLabelValues(chain).Observe(depth)
	}
}

// RevertRows records how many rows a revert touched in one table.
func (m *Metrics) RevertRows(table string, rows float64) {
	if m != nil {
		m.databaseRevertRows.WithLabelValues(table).Add(rows)
	}
}

// FinalizedRows records how many shadow rows finalization dropped in one
// table.
func (m *Metrics) FinalizedRows(table string, rows float64) {
	if m != nil {
		m.databaseFinalizedRows.WithLabelValues(table).Add(rows)
	}
}

// SettingsInfo publishes static run settings as a constant gauge.
func (m *Metrics) SettingsInfo(ordering, database, command string) {
	if m != nil {
		m.settingsInfo.WithLabelValues(ordering, database, command).Set(1)
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
