// Package metrics exposes Prometheus collectors for the proxy.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/genai-studio/edge-proxy/internal/relay"
)

const namespace = "edgeproxy"

// Metrics holds the proxy collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	rateLimited      *prometheus.CounterVec
	streamEvents     *prometheus.CounterVec
	tokensMinted     *prometheus.CounterVec
}

// New creates the collectors and registers them, plus the Go and process
// collectors, on a new registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Proxied requests by capability and response status.",
			},
			[]string{"capability", "status"},
		),

		upstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_duration_seconds",
				Help:      "Time until the upstream response headers arrived.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"capability"},
		),

		rateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter.",
			},
			[]string{"capability"},
		),

		streamEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_total",
				Help:      "Relayed stream events by outcome (relayed, skipped, done).",
			},
			[]string{"kind"},
		),

		tokensMinted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_minted_total",
				Help:      "Upstream tokens minted by result.",
			},
			[]string{"result"},
		),
	}
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest counts a finished request.
func (m *Metrics) ObserveRequest(capability string, status int) {
	m.requests.WithLabelValues(capability, strconv.Itoa(status)).Inc()
}

// ObserveUpstream records the latency of an upstream call.
func (m *Metrics) ObserveUpstream(capability string, d time.Duration) {
	m.upstreamDuration.WithLabelValues(capability).Observe(d.Seconds())
}

// ObserveRateLimited counts a rate-limit rejection.
func (m *Metrics) ObserveRateLimited(capability string) {
	m.rateLimited.WithLabelValues(capability).Inc()
}

// ObserveStream adds the outcome of one relayed stream.
func (m *Metrics) ObserveStream(stats relay.Stats) {
	m.streamEvents.WithLabelValues("relayed").Add(float64(stats.Relayed))
	m.streamEvents.WithLabelValues("skipped").Add(float64(stats.Skipped))
	if stats.Done {
		m.streamEvents.WithLabelValues("done").Inc()
	}
}

// ObserveMint counts a mint attempt. It matches the signature expected by
// upstream.WithMintObserver.
func (m *Metrics) ObserveMint(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.tokensMinted.WithLabelValues(result).Inc()
}
