// Package metrics provides Prometheus metrics for the edge.
package metrics

import (
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Origin attempt outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeErrorStatus = "error_status"
	OutcomeTransport   = "transport_error"
)

// Metrics holds all Prometheus metric collectors for the edge.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	OriginAttempts    *prometheus.CounterVec

	LeadSubmissions *prometheus.CounterVec

	// pathPrefixes are the path label values besides "proxy".
	pathPrefixes []string
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry:     reg,
		pathPrefixes: append([]string(nil), knownPrefixes...),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tryon_edge_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tryon_edge_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tryon_edge_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tryon_edge_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),
		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tryon_edge_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),
		OriginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tryon_edge_origin_attempts_total",
			Help: "Candidate origin attempts by origin host and outcome.",
		}, []string{"origin", "outcome"}),
		LeadSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tryon_edge_lead_submissions_total",
			Help: "Lead form submissions by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.OriginAttempts,
		m.LeadSubmissions,
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

// knownPrefixes lists the default path label values (bounded cardinality).
// Everything else is a proxied page or API call and is labeled "proxy".
var knownPrefixes = []string{"/assets", "/healthz", "/proxy/status", "/metrics", "/lead"}

// AddPathLabels registers extra path label values, such as configured lead and
// scrape paths. Call it before the server starts.
func (m *Metrics) AddPathLabels(paths ...string) {
	for _, p := range paths {
		p = strings.TrimRight(p, "/")
		if p == "" || slices.Contains(m.pathPrefixes, p) {
			continue
		}
		m.pathPrefixes = append(m.pathPrefixes, p)
	}
}

// NormalizePath returns a bounded path label using the default and registered prefixes.
func (m *Metrics) NormalizePath(path string) string {
	return matchPrefix(m.pathPrefixes, path)
}

// NormalizePath returns a bounded path label for Prometheus metrics using the
// default prefixes only.
func NormalizePath(path string) string {
	return matchPrefix(knownPrefixes, path)
}

func matchPrefix(prefixes []string, path string) string {
	for _, prefix := range prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "proxy"
}
