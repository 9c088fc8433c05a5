package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	AppendsTotal       *prometheus.CounterVec
	VerificationsTotal *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		AppendsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custos_audit_appends_total",
			Help: "Total audit chain append attempts by data class and outcome",
		}, []string{"data_class", "outcome"}),
		VerificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custos_audit_verifications_total",
			Help: "Total audit chain verifications by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RecordAppend(dataClass string, ok bool) {
	m.AppendsTotal.WithLabelValues(dataClass, outcome(ok)).Inc()
}

func (m *Metrics) RecordVerification(ok bool) {
	m.VerificationsTotal.WithLabelValues(outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
