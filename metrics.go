package govern

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	transitions *prometheus.CounterVec
	denials     *prometheus.CounterVec
	resolve     prometheus.Histogram
}

// NewMetrics creates and registers collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govern_decision_transitions_total",
				Help: "Decision actions by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		denials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "govern_decision_denials_total",
				Help: "Rejected decision actions by error class",
			},
			[]string{"reason"},
		),
		resolve: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "govern_auth_context_resolve_seconds",
				Help:    "Time to resolve an auth context",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	for _, c := range []prometheus.Collector{m.transitions, m.denials, m.resolve} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeTransition(action EvidenceAction, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(action), outcome).Inc()
}

func (m *Metrics) observeDenial(reason string) {
	if m == nil {
		return
	}
	m.denials.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeResolve(d time.Duration) {
	if m == nil {
		return
	}
	m.resolve.Observe(d.Seconds())
}
