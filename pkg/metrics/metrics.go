// Package metrics exposes relay counters in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	playlists      *prometheus.CounterVec
	resolutions    *prometheus.CounterVec
	resolveSeconds *prometheus.HistogramVec
	relayBytes     *prometheus.CounterVec
	requestErrors  *prometheus.CounterVec
	channelCache   *prometheus.CounterVec
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		playlists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iptv_relay",
			Name:      "playlists_total",
			Help:      "Playlists served, by classification.",
		}, []string{"kind"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iptv_relay",
			Name:      "resolutions_total",
			Help:      "Source resolutions, by resolver and outcome.",
		}, []string{"resolver", "outcome"}),
		resolveSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "iptv_relay",
			Name:      "resolve_duration_seconds",
			Help:      "Time spent resolving a source.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"resolver"}),
		relayBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iptv_relay",
			Name:      "relay_bytes_total",
			Help:      "Bytes relayed to clients, by resource kind.",
		}, []string{"kind"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iptv_relay",
			Name:      "request_errors_total",
			Help:      "Failed requests, by resource kind and error kind.",
		}, []string{"resource", "kind"}),
		channelCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iptv_relay",
			Name:      "channel_cache_lookups_total",
			Help:      "Channel session cache lookups, by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.playlists,
		m.resolutions,
		m.resolveSeconds,
		m.relayBytes,
		m.requestErrors,
		m.channelCache,
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObservePlaylist(kind string) {
	if m == nil {
		return
	}
	m.playlists.WithLabelValues(kind).Inc()
}

// ObserveResolution records a finished resolution. outcome is "ok" or the
// error kind.
func (m *Metrics) ObserveResolution(resolver, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(resolver, outcome).Inc()
	m.resolveSeconds.WithLabelValues(resolver).Observe(d.Seconds())
}

func (m *Metrics) AddRelayBytes(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.relayBytes.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) ObserveError(resource, kind string) {
	if m == nil {
		return
	}
	m.requestErrors.WithLabelValues(resource, kind).Inc()
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.channelCache.WithLabelValues(result).Inc()
}
