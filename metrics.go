package tmrequest

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeSkipped = "skipped"
)

// Metrics holds the Prometheus metrics for evaluations and mutations.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	EvaluationsTotal *prometheus.CounterVec
	MutationsTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		EvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tmrequest_evaluations_total",
				Help: "Total number of training manager classifications",
			},
			[]string{"operation", "classification"},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tmrequest_mutations_total",
				Help: "Total number of role assignment changes",
			},
			[]string{"operation", "outcome"},
		),
	}
	registry.MustRegister(m.EvaluationsTotal, m.MutationsTotal)
	return m
}

func (m *Metrics) observeEvaluation(operation string, c Classification) {
	if m == nil {
		return
	}
	m.EvaluationsTotal.WithLabelValues(operation, c.String()).Inc()
}

func (m *Metrics) observeMutation(operation, outcome string) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(operation, outcome).Inc()
}
