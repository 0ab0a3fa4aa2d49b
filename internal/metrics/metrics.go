// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// fixedPrefixes are gateway-served paths always kept as distinct labels.
var fixedPrefixes = []string{"/healthz", "/gateway/status"}

// Metrics holds all Prometheus metric collectors for the gateway.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	ResponseOutcomes  *prometheus.CounterVec
	TokenCaptures     *prometheus.CounterVec
	TransportFailures *prometheus.CounterVec

	prefixes []string
}

// New creates a Metrics instance with a custom registry and all collectors
// registered. scrapePath and routePrefixes bound the path label alongside the
// gateway's own paths; an empty scrapePath is ignored.
func New(scrapePath string, routePrefixes ...string) *Metrics {
	prefixes := append(slices.Clone(routePrefixes), fixedPrefixes...)
	if scrapePath != "" {
		prefixes = append(prefixes, scrapePath)
	}

	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_gateway_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_gateway_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "api_gateway_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_gateway_upstream_request_duration_seconds",
			Help:    "Backend call latency in seconds by route and method.",
			Buckets: defaultBuckets,
		}, []string{"route", "method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_gateway_upstream_responses_total",
			Help: "Backend calls by route and status code; \"error\" when no response arrived.",
		}, []string{"route", "status_code"}),

		ResponseOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_gateway_response_outcomes_total",
			Help: "Backend responses by route and transformation outcome.",
		}, []string{"route", "outcome"}),

		TokenCaptures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_gateway_token_captures_total",
			Help: "Credentials captured from backend responses by route and sink.",
		}, []string{"route", "sink"}),

		TransportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_gateway_transport_failures_total",
			Help: "Backend transport failures by route and kind.",
		}, []string{"route", "kind"}),

		prefixes: prefixes,
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.ResponseOutcomes,
		m.TokenCaptures,
		m.TransportFailures,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// NormalizePath returns a bounded path label for Prometheus metrics.
func (m *Metrics) NormalizePath(path string) string {
	for _, prefix := range m.prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
