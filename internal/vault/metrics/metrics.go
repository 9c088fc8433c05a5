package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	TokenizationsTotal   *prometheus.CounterVec
	DetokenizationsTotal *prometheus.CounterVec
	KeyRotationsTotal    prometheus.Counter
	ReencryptedEntries   prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		TokenizationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custos_vault_tokenizations_total",
			Help: "Total tokenize calls by data type and outcome",
		}, []string{"data_type", "outcome"}),
		DetokenizationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custos_vault_detokenizations_total",
			Help: "Total detokenize calls by data type and outcome",
		}, []string{"data_type", "outcome"}),
		KeyRotationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custos_vault_key_rotations_total",
			Help: "Total key rotations",
		}),
		ReencryptedEntries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custos_vault_reencrypted_entries_total",
			Help: "Total vault entries re-encrypted by the rotation migration",
		}),
	}
}

func (m *Metrics) RecordTokenize(dataType string, ok bool) {
	m.TokenizationsTotal.WithLabelValues(dataType, outcome(ok)).Inc()
}

func (m *Metrics) RecordDetokenize(dataType string, ok bool) {
	m.DetokenizationsTotal.WithLabelValues(dataType, outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "denied_or_failed"
}
