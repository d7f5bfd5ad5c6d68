// Package metrics owns the Prometheus registry served on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coroner_assist"

type Metrics struct {
	registry          *prometheus.Registry
	completions       *prometheus.CounterVec
	completionSeconds prometheus.Histogram
	extractions       *prometheus.CounterVec
	requests          *prometheus.CounterVec
	requestSeconds    *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_completions_total",
			Help:      "Chat completion calls by outcome.",
		}, []string{"outcome"}),
		completionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_completion_duration_seconds",
			Help:      "Latency of chat completion calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Uploaded files processed, by format and outcome.",
		}, []string{"format", "outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.completions,
		m.completionSeconds,
		m.extractions,
		m.requests,
		m.requestSeconds,
	)
	return m
}

func (m *Metrics) ObserveCompletion(outcome string, elapsed time.Duration) {
	m.completions.WithLabelValues(outcome).Inc()
	m.completionSeconds.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveExtraction(format, outcome string) {
	m.extractions.WithLabelValues(format, outcome).Inc()
}

func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestSeconds.WithLabelValues(route).Observe(elapsed.Seconds())
}

// TrackThreads exposes the number of stored threads, read at scrape time.
func (m *Metrics) TrackThreads(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "threads",
		Help:      "Threads currently held in memory.",
	}, func() float64 { return float64(count()) }))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
