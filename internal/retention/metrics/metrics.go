package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SweepsTotal      prometheus.Counter
	SweepDuration    prometheus.Histogram
	TransitionsTotal *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		SweepsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custos_retention_sweeps_total",
			Help: "Total retention sweep runs",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custos_retention_sweep_duration_seconds",
			Help:    "Wall-clock duration of retention sweeps",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custos_retention_transitions_total",
			Help: "Record lifecycle transitions by target state and outcome",
		}, []string{"to_state", "outcome"}),
	}
}

func (m *Metrics) RecordTransition(toState string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.TransitionsTotal.WithLabelValues(toState, outcome).Inc()
}
