// Package metrics exposes Prometheus instrumentation for the verification
// service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/remiblancher/tsa-verifier/internal/verifier"
)

const namespace = "tsaverify"

// Metrics holds the service collectors and the registry they belong to.
type Metrics struct {
	registry *prometheus.Registry

	verifications *prometheus.CounterVec
	checks        *prometheus.CounterVec
	duration      prometheus.Histogram
	cacheLookups  *prometheus.CounterVec
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	rateLimited   prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry along
// with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Timestamp token verifications by provider and verdict.",
		}, []string{"provider", "valid"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Individual check outcomes by check name and state.",
		}, []string{"check", "state"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_duration_seconds",
			Help:      "Time spent verifying one token.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Verdict cache lookups by outcome.",
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.verifications,
		m.checks,
		m.duration,
		m.cacheLookups,
		m.requests,
		m.latency,
		m.rateLimited,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveResult records one verification verdict. A nil receiver is a no-op.
func (m *Metrics) ObserveResult(provider string, res *verifier.Result, elapsed time.Duration) {
	if m == nil || res == nil {
		return
	}
	if provider == "" {
		provider = "none"
	}
	m.verifications.WithLabelValues(provider, strconv.FormatBool(res.Valid)).Inc()
	m.checks.WithLabelValues("hash_match", res.HashMatch.String()).Inc()
	m.checks.WithLabelValues("signature_valid", res.SignatureValid.String()).Inc()
	m.checks.WithLabelValues("provider_matched", res.ProviderMatched.String()).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// CacheHit records a cache hit.
func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheLookups.WithLabelValues("hit").Inc()
	}
}

// CacheMiss records a cache miss.
func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

// CacheError records a failed cache lookup or store.
func (m *Metrics) CacheError() {
	if m != nil {
		m.cacheLookups.WithLabelValues("error").Inc()
	}
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RateLimited records a rejected request.
func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}
