// Package telemetry keeps in-process counters for the synchronization layer.
//
// Collectors live on a private registry and are never transmitted. A shell
// that wants to inspect them can mount Handler on a loopback-only listener.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolver lookup outcomes.
const (
	LookupPassthrough = "passthrough"
	LookupHit         = "hit"
	LookupMiss        = "miss"
	LookupFailed      = "failed"
	LookupRejected    = "rejected"
)

// Alert cue outcomes.
const (
	CuePlayed     = "played"
	CueSuppressed = "suppressed"
	CueMuted      = "muted"
	CueThrottled  = "throttled"
)

// Metrics groups every collector the core records into.
type Metrics struct {
	registry *prometheus.Registry

	InvokeAttempts  *prometheus.CounterVec
	InvokeFailures  *prometheus.CounterVec
	InvokeRetries   *prometheus.CounterVec
	ResolverLookups *prometheus.CounterVec
	AlertCues       *prometheus.CounterVec
	OutboxDepth     prometheus.Gauge
	EventsReceived  *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Default returns the process-wide metrics.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// New creates a metrics set on a fresh private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		InvokeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerwall",
			Name:      "invoke_attempts_total",
			Help:      "Remote command attempts, including retries.",
		}, []string{"command"}),
		InvokeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerwall",
			Name:      "invoke_failures_total",
			Help:      "Remote command failures surfaced to callers, by error kind.",
		}, []string{"command", "kind"}),
		InvokeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerwall",
			Name:      "invoke_retries_total",
			Help:      "Retries scheduled after a recoverable failure.",
		}, []string{"command", "kind"}),
		ResolverLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerwall",
			Name:      "media_resolver_lookups_total",
			Help:      "Media reference resolutions by outcome.",
		}, []string{"outcome"}),
		AlertCues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerwall",
			Name:      "alert_cues_total",
			Help:      "Alert decisions by category and outcome.",
		}, []string{"category", "outcome"}),
		OutboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "peerwall",
			Name:      "outbox_depth",
			Help:      "Best-effort publish operations waiting for retry.",
		}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerwall",
			Name:      "events_received_total",
			Help:      "Push events received from the backend by type.",
		}, []string{"type"}),
	}
	reg.MustRegister(
		m.InvokeAttempts,
		m.InvokeFailures,
		m.InvokeRetries,
		m.ResolverLookups,
		m.AlertCues,
		m.OutboxDepth,
		m.EventsReceived,
	)
	return m
}

// Registry exposes the private registry for tests and local inspection.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
