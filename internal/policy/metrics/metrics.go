package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	DecisionsTotal *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custos_policy_decisions_total",
			Help: "Total policy decisions by role, resource type, action, and outcome",
		}, []string{"role", "resource_type", "action", "outcome"}),
	}
}

func (m *Metrics) RecordDecision(role, resourceType, action string, allowed bool) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.DecisionsTotal.WithLabelValues(role, resourceType, action, outcome).Inc()
}
