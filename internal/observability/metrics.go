package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline stages observed by StageDuration
const (
	StageEmbed    = "embed"
	StageSearch   = "search"
	StageRerank   = "rerank"
	StageGenerate = "generate"
)

// Metrics holds the service's Prometheus collectors on a private registry.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	AnswersTotal           *prometheus.CounterVec
	RetrievalFallbackTotal prometheus.Counter
	RerankFailuresTotal    prometheus.Counter
	RetrievalFailuresTotal prometheus.Counter
	StageDuration          *prometheus.HistogramVec
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
}

// NewMetrics registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AnswersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rag",
				Name:      "answers_total",
				Help:      "Answers produced, by terminal composer state",
			},
			[]string{"state"},
		),
		RetrievalFallbackTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "rag",
				Name:      "retrieval_fallback_total",
				Help:      "Retrievals that ran the lowered-threshold fallback pass",
			},
		),
		RerankFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "rag",
				Name:      "rerank_failures_total",
				Help:      "Reranker calls that failed and fell back to vector order",
			},
		),
		RetrievalFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "rag",
				Name:      "retrieval_failures_total",
				Help:      "Embedding or vector index errors during retrieval",
			},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rag",
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests by method, route pattern and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency by route pattern",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordAnswer counts an answer by its terminal state
func (m *Metrics) RecordAnswer(state string) {
	if m == nil {
		return
	}
	m.AnswersTotal.WithLabelValues(state).Inc()
}

// RecordFallback counts a fallback retrieval pass
func (m *Metrics) RecordFallback() {
	if m == nil {
		return
	}
	m.RetrievalFallbackTotal.Inc()
}

// RecordRerankFailure counts a failed rerank call
func (m *Metrics) RecordRerankFailure() {
	if m == nil {
		return
	}
	m.RerankFailuresTotal.Inc()
}

// RecordRetrievalFailure counts an embedding or index error
func (m *Metrics) RecordRetrievalFailure() {
	if m == nil {
		return
	}
	m.RetrievalFailuresTotal.Inc()
}

// ObserveStage records how long a pipeline stage took
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordHTTPRequest records a served HTTP request
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}
