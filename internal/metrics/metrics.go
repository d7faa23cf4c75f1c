// Package metrics exposes Prometheus counters for the moderation workflow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service counters on a private registry so tests can
// construct isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal           *prometheus.CounterVec
	RevocationsTotal      prometheus.Counter
	OutboundFailuresTotal *prometheus.CounterVec
}

// New constructs the counter set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "emojiwarden_events_total",
			Help: "Inbound events and interactions received, by type.",
		}, []string{"type"}),
		RevocationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "emojiwarden_revocations_total",
			Help: "Emoji revocations completed with all side effects applied.",
		}),
		OutboundFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "emojiwarden_outbound_failures_total",
			Help: "Failed outbound platform calls, by operation.",
		}, []string{"operation"}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
