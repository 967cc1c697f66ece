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
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	askTotal            *prometheus.CounterVec
	answerabilityTotal  *prometheus.CounterVec
	evidenceChunks      *prometheus.HistogramVec
	stageDuration       *prometheus.HistogramVec
	stageSoftExceeded   *prometheus.CounterVec
	degradedTotal       *prometheus.CounterVec
	groundingCoverage   *prometheus.HistogramVec
	citationsInjected   *prometheus.HistogramVec
	domainDetectedTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	askTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "pipeline",
			Name:      "ask_total",
			Help:      "Total completed ask requests by outcome.",
		},
		[]string{"service", "outcome"},
	)
	answerabilityTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "pipeline",
			Name:      "answerability_total",
			Help:      "Answerability gate decisions by refusal reason.",
		},
		[]string{"service", "reason"},
	)
	evidenceChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "pipeline",
			Name:      "evidence_chunks",
			Help:      "Distribution of evidence chunks per answered request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	stageSoftExceeded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "pipeline",
			Name:      "stage_soft_budget_exceeded_total",
			Help:      "Stage executions that overran their soft time budget.",
		},
		[]string{"service", "stage"},
	)
	degradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "pipeline",
			Name:      "degraded_total",
			Help:      "Degradations recorded on answers by marker.",
		},
		[]string{"service", "marker"},
	)
	groundingCoverage := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "grounding",
			Name:      "coverage_percent",
			Help:      "Share of factual claims mapped to a citation.",
			Buckets:   []float64{0, 10, 25, 50, 75, 90, 100},
		},
		[]string{"service"},
	)
	citationsInjected := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "grounding",
			Name:      "citations_injected",
			Help:      "Distribution of citations attached per answer.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"service"},
	)
	domainDetectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "pipeline",
			Name:      "domain_detected_total",
			Help:      "Domain classifier outcomes.",
		},
		[]string{"service", "domain"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		askTotal,
		answerabilityTotal,
		evidenceChunks,
		stageDuration,
		stageSoftExceeded,
		degradedTotal,
		groundingCoverage,
		citationsInjected,
		domainDetectedTotal,
	)

	return &HTTPServerMetrics{
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		askTotal:            askTotal,
		answerabilityTotal:  answerabilityTotal,
		evidenceChunks:      evidenceChunks,
		stageDuration:       stageDuration,
		stageSoftExceeded:   stageSoftExceeded,
		degradedTotal:       degradedTotal,
		groundingCoverage:   groundingCoverage,
		citationsInjected:   citationsInjected,
		domainDetectedTotal: domainDetectedTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
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
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/conversations/"):
		return "/v1/conversations/{conversation_id}/state"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordAsk(service string, answerable bool, reason string, evidenceCount int) {
	outcome := "answered"
	if !answerable {
		outcome = "refused"
		if reason == "" {
			reason = "unknown"
		}
		m.answerabilityTotal.WithLabelValues(service, reason).Inc()
	}
	m.askTotal.WithLabelValues(service, outcome).Inc()
	m.evidenceChunks.WithLabelValues(service).Observe(float64(evidenceCount))
}

func (m *HTTPServerMetrics) RecordStage(service, stage string, duration time.Duration, softExceeded bool) {
	m.stageDuration.WithLabelValues(service, stage).Observe(duration.Seconds())
	if softExceeded {
		m.stageSoftExceeded.WithLabelValues(service, stage).Inc()
	}
}

func (m *HTTPServerMetrics) RecordDegraded(service string, markers []string) {
	for _, marker := range markers {
		m.degradedTotal.WithLabelValues(service, marker).Inc()
	}
}

func (m *HTTPServerMetrics) RecordGrounding(service string, coveragePercent float64, citationCount int) {
	m.groundingCoverage.WithLabelValues(service).Observe(coveragePercent)
	m.citationsInjected.WithLabelValues(service).Observe(float64(citationCount))
}

func (m *HTTPServerMetrics) RecordDomain(service, domainName string) {
	if domainName == "" {
		domainName = "general"
	}
	m.domainDetectedTotal.WithLabelValues(service, domainName).Inc()
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

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
