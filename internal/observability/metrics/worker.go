package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	snapshotTotal    *prometheus.CounterVec
	snapshotDuration *prometheus.HistogramVec
	snapshotInFlight prometheus.Gauge
	queueLag         *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	snapshotTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "worker",
			Name:      "snapshot_write_total",
			Help:      "Total persisted conversation snapshots by status.",
		},
		[]string{"service", "status"},
	)
	snapshotDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "worker",
			Name:      "snapshot_write_duration_seconds",
			Help:      "Snapshot persistence duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	snapshotInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docqa",
			Subsystem: "worker",
			Name:      "snapshot_write_in_flight",
			Help:      "Number of in-flight snapshot writes.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between snapshot capture and persistence start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(snapshotTotal, snapshotDuration, snapshotInFlight, queueLag)

	return &WorkerMetrics{
		registry:         registry,
		snapshotTotal:    snapshotTotal,
		snapshotDuration: snapshotDuration,
		snapshotInFlight: snapshotInFlight,
		queueLag:         queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartSnapshot() {
	m.snapshotInFlight.Inc()
}

func (m *WorkerMetrics) FinishSnapshot(service string, duration time.Duration, err error) {
	m.snapshotInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.snapshotTotal.WithLabelValues(service, status).Inc()
	m.snapshotDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}
