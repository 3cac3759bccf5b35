package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/field-capture/internal/core/domain"
)

const namespace = "fieldcapture"

// HTTPServerMetrics covers the API surface and the capture pipeline running behind it.
// It implements usecase.PipelineObserver.
type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	itemsCapturedTotal   *prometheus.CounterVec
	labelsTotal          *prometheus.CounterVec
	thumbnailUploadTotal *prometheus.CounterVec
	imageRefsTotal       *prometheus.CounterVec
	summaryTotal         *prometheus.CounterVec
	summaryDuration      *prometheus.HistogramVec
	offlineQueuedTotal   *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	itemsCapturedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "items_total",
			Help:      "Total captured items by media kind.",
		},
		[]string{"service", "kind"},
	)
	labelsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "labels_total",
			Help:      "Background label requests by outcome.",
		},
		[]string{"service", "outcome"},
	)
	thumbnailUploadTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "thumbnail_uploads_total",
			Help:      "Background thumbnail uploads by status.",
		},
		[]string{"service", "status"},
	)
	imageRefsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "image_refs_total",
			Help:      "Image references sent to the summary service by source.",
		},
		[]string{"service", "source"},
	)
	summaryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "summaries_total",
			Help:      "Summary requests by outcome.",
		},
		[]string{"service", "outcome"},
	)
	summaryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "summary_duration_seconds",
			Help:      "Summary request duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
		},
		[]string{"service"},
	)
	offlineQueuedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "offline_queued_total",
			Help:      "Items written to the offline queue.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		itemsCapturedTotal,
		labelsTotal,
		thumbnailUploadTotal,
		imageRefsTotal,
		summaryTotal,
		summaryDuration,
		offlineQueuedTotal,
	)

	return &HTTPServerMetrics{
		registry:             registry,
		service:              service,
		requestTotal:         requestTotal,
		requestDuration:      requestDuration,
		requestInFlight:      requestInFlight,
		itemsCapturedTotal:   itemsCapturedTotal,
		labelsTotal:          labelsTotal,
		thumbnailUploadTotal: thumbnailUploadTotal,
		imageRefsTotal:       imageRefsTotal,
		summaryTotal:         summaryTotal,
		summaryDuration:      summaryDuration,
		offlineQueuedTotal:   offlineQueuedTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/session/items/"):
		rest := strings.TrimPrefix(path, "/v1/session/items/")
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return "/v1/session/items/{item_id}" + rest[i:]
		}
		return "/v1/session/items/{item_id}"
	case strings.HasPrefix(path, "/v1/media/"):
		return "/v1/media/{key}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) ItemsCaptured(kind domain.MediaKind, count int) {
	if count <= 0 {
		return
	}
	m.itemsCapturedTotal.WithLabelValues(m.service, string(kind)).Add(float64(count))
}

func (m *HTTPServerMetrics) LabelFinished(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.labelsTotal.WithLabelValues(m.service, outcome).Inc()
}

func (m *HTTPServerMetrics) ThumbnailUploaded(ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	m.thumbnailUploadTotal.WithLabelValues(m.service, status).Inc()
}

func (m *HTTPServerMetrics) ImageRefsResolved(signed, inline int) {
	if signed > 0 {
		m.imageRefsTotal.WithLabelValues(m.service, "signed_url").Add(float64(signed))
	}
	if inline > 0 {
		m.imageRefsTotal.WithLabelValues(m.service, "inline").Add(float64(inline))
	}
}

func (m *HTTPServerMetrics) SummaryFinished(outcome string, duration time.Duration) {
	m.summaryTotal.WithLabelValues(m.service, outcome).Inc()
	m.summaryDuration.WithLabelValues(m.service).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) OfflineQueued(count int) {
	if count <= 0 {
		return
	}
	m.offlineQueuedTotal.WithLabelValues(m.service).Add(float64(count))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
