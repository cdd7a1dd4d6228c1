// Package metrics holds the Prometheus collectors shared by the storefront
// components. A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fjod/storefront/internal/domain"
)

const namespace = "storefront"

type Metrics struct {
	RemoteCalls    *prometheus.CounterVec
	StaleResponses *prometheus.CounterVec
	DebounceFired  prometheus.Counter
	ServerRequests *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RemoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Remote service calls issued by the client, by call and outcome class.",
		}, []string{"call", "outcome"}),
		StaleResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_total",
			Help:      "Responses dropped because a newer request of the same kind was issued.",
		}, []string{"kind"}),
		DebounceFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_debounce_fired_total",
			Help:      "Searches issued after the debounce quiet period elapsed.",
		}),
		ServerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "devserver",
			Name:      "requests_total",
			Help:      "Requests served by the development backend.",
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.RemoteCalls, m.StaleResponses, m.DebounceFired, m.ServerRequests)
	return m
}

// ObserveCall counts one remote call with the outcome class of err.
func (m *Metrics) ObserveCall(call string, err error) {
	if m == nil {
		return
	}
	m.RemoteCalls.WithLabelValues(call, Outcome(err)).Inc()
}

func (m *Metrics) StaleDropped(kind string) {
	if m == nil {
		return
	}
	m.StaleResponses.WithLabelValues(kind).Inc()
}

func (m *Metrics) Debounced() {
	if m == nil {
		return
	}
	m.DebounceFired.Inc()
}

func (m *Metrics) ObserveServerRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.ServerRequests.WithLabelValues(method, route, status).Inc()
}

// Outcome maps an error onto its class label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrAuthRequired):
		return "auth_required"
	case errors.Is(err, domain.ErrDuplicateItem):
		return "duplicate"
	case errors.Is(err, domain.ErrServerRejected):
		return "rejected"
	case errors.Is(err, domain.ErrServerFault):
		return "fault"
	default:
		return "unreachable"
	}
}
