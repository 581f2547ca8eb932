// Package metrics holds the Prometheus collectors shared by engines and workers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics holds all Prometheus metrics for a store process.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Engine operation metrics
	engineOperationsTotal   *prometheus.CounterVec
	engineOperationDuration *prometheus.HistogramVec

	// Worker metrics
	workerQueueDepth        *prometheus.GaugeVec
	workerTimeoutsTotal     *prometheus.CounterVec
	workerSendFailuresTotal *prometheus.CounterVec
	workerPanicsTotal       *prometheus.CounterVec

	// Log store metrics
	logCompactionsTotal prometheus.Counter
	logLiveKeys         prometheus.Gauge
	logDataSizeBytes    prometheus.Gauge

	// Memory backend metrics
	snapshotsTotal prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		engineOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashbox_engine_operations_total",
				Help: "Total number of engine operations",
			},
			[]string{"engine", "operation", "status"},
		),

		engineOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cashbox_engine_operation_duration_seconds",
				Help:    "Engine operation duration in seconds, measured inside the worker turn",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"engine", "operation"},
		),

		workerQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cashbox_worker_queue_depth",
				Help: "Number of messages waiting in a worker mailbox",
			},
			[]string{"worker"},
		),

		workerTimeoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashbox_worker_timeouts_total",
				Help: "Total number of requests whose caller stopped waiting",
			},
			[]string{"worker"},
		),

		workerSendFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashbox_worker_send_failures_total",
				Help: "Total number of fire-and-forget messages that failed",
			},
			[]string{"worker"},
		),

		workerPanicsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashbox_worker_panics_total",
				Help: "Total number of worker turns that panicked",
			},
			[]string{"worker"},
		),

		logCompactionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cashbox_log_compactions_total",
				Help: "Total number of log compactions",
			},
		),

		logLiveKeys: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cashbox_log_live_keys",
				Help: "Number of live keys in the log index",
			},
		),

		logDataSizeBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cashbox_log_data_size_bytes",
				Help: "Size of the log stream in bytes",
			},
		),

		snapshotsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cashbox_snapshots_total",
				Help: "Total number of memory snapshots written",
			},
		),
	}

	return m
}

// RecordEngineOperation records one engine operation
func (m *Metrics) RecordEngineOperation(engine, operation string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := statusSuccess
	if !success {
		status = statusError
	}

	m.engineOperationsTotal.WithLabelValues(engine, operation, status).Inc()
	m.engineOperationDuration.WithLabelValues(engine, operation).Observe(duration.Seconds())
}

// SetQueueDepth updates the mailbox depth of a worker
func (m *Metrics) SetQueueDepth(worker string, depth int) {
	if m == nil {
		return
	}
	m.workerQueueDepth.WithLabelValues(worker).Set(float64(depth))
}

// RecordTimeout records a request that timed out on the caller side
func (m *Metrics) RecordTimeout(worker string) {
	if m == nil {
		return
	}
	m.workerTimeoutsTotal.WithLabelValues(worker).Inc()
}

// RecordSendFailure records a failed fire-and-forget message
func (m *Metrics) RecordSendFailure(worker string) {
	if m == nil {
		return
	}
	m.workerSendFailuresTotal.WithLabelValues(worker).Inc()
}

// RecordPanic records a recovered panic in a worker turn
func (m *Metrics) RecordPanic(worker string) {
	if m == nil {
		return
	}
	m.workerPanicsTotal.WithLabelValues(worker).Inc()
}

// RecordCompaction records a completed log compaction
func (m *Metrics) RecordCompaction() {
	if m == nil {
		return
	}
	m.logCompactionsTotal.Inc()
}

// UpdateLogStats updates log store statistics
func (m *Metrics) UpdateLogStats(keys int, dataSize int64) {
	if m == nil {
		return
	}
	m.logLiveKeys.Set(float64(keys))
	m.logDataSizeBytes.Set(float64(dataSize))
}

// RecordSnapshot records a memory snapshot write
func (m *Metrics) RecordSnapshot() {
	if m == nil {
		return
	}
	m.snapshotsTotal.Inc()
}
