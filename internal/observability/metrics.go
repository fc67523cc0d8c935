// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the indexer.
type Metrics struct {
	// Ingestion metrics
	EventsStored      *prometheus.CounterVec
	DuplicatesSkipped *prometheus.CounterVec
	DecodeErrors      prometheus.Counter
	IngestErrors      *prometheus.CounterVec

	// Backfill metrics
	BackfillRuns     *prometheus.CounterVec
	BackfillDuration prometheus.Histogram

	// Snapshot / stats metrics
	SnapshotsRecorded prometheus.Counter
	SnapshotsSkipped  prometheus.Counter
	StatsRefreshes    *prometheus.CounterVec

	// Chain metrics
	RPCCallLatency *prometheus.HistogramVec

	// Lifecycle metrics
	WatchersActive          prometheus.Gauge
	LastSuccessfulIngestion prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "perps_indexer"
	}

	return &Metrics{
		EventsStored: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_stored_total",
			Help:      "Total number of swap events stored, by source",
		}, []string{"source"}),
		DuplicatesSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "duplicates_skipped_total",
			Help:      "Total number of duplicate swap events suppressed, by source",
		}, []string{"source"}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "decode_errors_total",
			Help:      "Total number of malformed logs skipped",
		}),
		IngestErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "errors_total",
			Help:      "Total number of ingestion errors, by source",
		}, []string{"source"}),

		BackfillRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "runs_total",
			Help:      "Total number of backfill runs by status",
		}, []string{"status"}),
		BackfillDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "duration_seconds",
			Help:      "Backfill run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		SnapshotsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "recorded_total",
			Help:      "Total number of price snapshots written",
		}),
		SnapshotsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "skipped_total",
			Help:      "Total number of snapshot ticks skipped for unavailable mark price",
		}),
		StatsRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "refreshes_total",
			Help:      "Total number of 24h stats refreshes by trigger",
		}, []string{"trigger"}),

		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_latency_seconds",
			Help:      "EVM node call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		WatchersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "active",
			Help:      "Number of live market watchers",
		}),
		LastSuccessfulIngestion: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of last successful event insert",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventStored increments the stored counter for a source ("backfill" or "watcher").
func RecordEventStored(source string) {
	DefaultMetrics.EventsStored.WithLabelValues(source).Inc()
	DefaultMetrics.LastSuccessfulIngestion.SetToCurrentTime()
}

// RecordDuplicateSkipped increments the duplicate counter for a source.
func RecordDuplicateSkipped(source string) {
	DefaultMetrics.DuplicatesSkipped.WithLabelValues(source).Inc()
}

// RecordDecodeError increments the malformed-log counter.
func RecordDecodeError() {
	DefaultMetrics.DecodeErrors.Inc()
}

// RecordIngestError increments the ingestion error counter for a source.
func RecordIngestError(source string) {
	DefaultMetrics.IngestErrors.WithLabelValues(source).Inc()
}

// RecordBackfillRun records one backfill run outcome.
func RecordBackfillRun(status string, durationSeconds float64) {
	DefaultMetrics.BackfillRuns.WithLabelValues(status).Inc()
	DefaultMetrics.BackfillDuration.Observe(durationSeconds)
}

// RecordSnapshot records a written snapshot.
func RecordSnapshot() {
	DefaultMetrics.SnapshotsRecorded.Inc()
}

// RecordSnapshotSkipped records a snapshot tick skipped for missing price.
func RecordSnapshotSkipped() {
	DefaultMetrics.SnapshotsSkipped.Inc()
}

// RecordStatsRefresh records a stats refresh by trigger ("timer", "watcher", "startup").
func RecordStatsRefresh(trigger string) {
	DefaultMetrics.StatsRefreshes.WithLabelValues(trigger).Inc()
}

// RecordRPCLatency records node call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}
