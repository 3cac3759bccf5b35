package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics implements usecase.SyncObserver for the offline sync worker.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	syncTotal    *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
	syncInFlight prometheus.Gauge
	queueLag     *prometheus.HistogramVec
	queueDepth   prometheus.Gauge
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	syncTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "media_sync_total",
			Help:      "Total synced media items by status.",
		},
		[]string{"service", "status"},
	)
	syncDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "media_sync_duration_seconds",
			Help:      "Media sync duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	syncInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "media_sync_in_flight",
			Help:      "Number of in-flight media sync tasks.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between offline enqueue and sync start.",
			Buckets:   []float64{1, 5, 30, 60, 300, 900, 3600, 4 * 3600, 24 * 3600},
		},
		[]string{"service"},
	)
	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "offline_queue_depth",
			Help:      "Items waiting in the offline queue.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(syncTotal, syncDuration, syncInFlight, queueLag, queueDepth)

	return &WorkerMetrics{
		registry:     registry,
		service:      service,
		syncTotal:    syncTotal,
		syncDuration: syncDuration,
		syncInFlight: syncInFlight,
		queueLag:     queueLag,
		queueDepth:   queueDepth,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartMedia() {
	m.syncInFlight.Inc()
}

func (m *WorkerMetrics) FinishMedia(duration time.Duration, err error) {
	m.syncInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.syncTotal.WithLabelValues(m.service, status).Inc()
	m.syncDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}
