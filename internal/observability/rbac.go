package observability

import "github.com/prometheus/client_golang/prometheus"

// RBACMetrics counts permission decisions and resolution cache traffic.
type RBACMetrics struct {
	decisions *prometheus.CounterVec
	cache     *prometheus.CounterVec
}

// NewRBACMetrics registers the authorization counters.
func NewRBACMetrics(reg prometheus.Registerer) *RBACMetrics {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stackdesk_rbac_decisions_total",
		Help: "Permission decisions by outcome.",
	}, []string{"outcome"})
	cache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stackdesk_rbac_cache_lookups_total",
		Help: "Resolved permission set cache lookups by result.",
	}, []string{"result"})
	reg.MustRegister(decisions, cache)
	return &RBACMetrics{decisions: decisions, cache: cache}
}

// ObserveDecision records one permission decision.
func (m *RBACMetrics) ObserveDecision(granted bool) {
	outcome := "denied"
	if granted {
		outcome = "granted"
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

// ObserveCache records one cache lookup.
func (m *RBACMetrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(result).Inc()
}
