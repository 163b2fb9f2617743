package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts reducer activity.
type Metrics struct {
	EventsTotal      *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	SpuriousSignOuts prometheus.Counter
	StaleResults     prometheus.Counter
}

// NewMetrics registers the session metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appcore",
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Auth lifecycle and internal events consumed by the reducer.",
		}, []string{"type"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appcore",
			Subsystem: "session",
			Name:      "view_transitions_total",
			Help:      "App view transitions applied.",
		}, []string{"view"}),
		SpuriousSignOuts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "appcore",
			Subsystem: "session",
			Name:      "spurious_sign_outs_total",
			Help:      "SIGNED_OUT events suppressed by the disambiguator.",
		}),
		StaleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "appcore",
			Subsystem: "session",
			Name:      "stale_results_total",
			Help:      "Async results dropped because their generation was superseded.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.EventsTotal, m.TransitionsTotal, m.SpuriousSignOuts, m.StaleResults)
	}
	return m
}
