// Package metrics owns the Prometheus registry of the service and the
// HTTP server that exposes it for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clip_encoder"

// Metrics holds the registry, the scrape server and the service collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Server   *http.Server
	Registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	inferenceDuration *prometheus.HistogramVec
	failuresTotal     *prometheus.CounterVec
	inflight          prometheus.Gauge
}

// NewMetrics creates an isolated registry, registers the service collectors
// and prepares (but does not start) the scrape server.
func NewMetrics(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()

	service := cfg.ServiceName
	if service == "" {
		service = "clip-encoder"
	}
	wrappedRegistry := prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, registry)

	m := &Metrics{Registry: registry}

	m.requestsTotal = createCounterVec("http_requests_total", "Total number of HTTP requests by route and status code.", []string{"endpoint", "status"})
	m.requestDuration = createHistogramVec("http_request_duration_seconds", "HTTP request latency by route.", []string{"endpoint"}, prometheus.DefBuckets)
	m.inferenceDuration = createHistogramVec("inference_duration_seconds", "Encoder forward pass latency by device.", []string{"device"},
		[]float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10})
	m.failuresTotal = createCounterVec("encode_failures_total", "Failed encode requests by failure kind.", []string{"kind"})
	m.inflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "inferences_in_flight",
		Help:      "Forward passes currently holding a device slot.",
	})

	wrappedRegistry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.inferenceDuration,
		m.failuresTotal,
		m.inflight,
	)

	if cfg.EnableDefaultCollectors {
		wrappedRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewBuildInfoCollector(),
		)
	}

	address := cfg.Address
	if address == "" {
		address = DefaultMetricsAddress
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.Server = &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
