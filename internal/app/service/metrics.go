package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeStarted             = "started"
	outcomeStartedWithoutTeams = "started_without_teams"
	outcomeReset               = "reset"
	outcomeRecordFailed        = "record_failed"
)

// Metrics del ciclo de vida. Con reg == nil se registran en un registry
// descartable (tests).
type Metrics struct {
	transitions      *prometheus.CounterVec
	outcomes         *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pickup_stage_transitions_total",
			Help: "stage transitions committed, by target stage",
		}, []string{"stage"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pickup_outcomes_total",
			Help: "terminal outcomes of the pickup lifecycle",
		}, []string{"outcome"}),
		deliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pickup_delivery_failures_total",
			Help: "announcements or direct messages that could not be delivered",
		}, []string{"kind"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pickup_stage_duration_seconds",
			Help:    "time spent inside afk_check / picking_manual",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage", "result"}),
	}
}

func (m *Metrics) transition(stage string) { m.transitions.WithLabelValues(stage).Inc() }
func (m *Metrics) outcome(o string)        { m.outcomes.WithLabelValues(o).Inc() }
func (m *Metrics) delivery(kind string)    { m.deliveryFailures.WithLabelValues(kind).Inc() }

func (m *Metrics) stage(stage, result string, seconds float64) {
	m.stageDuration.WithLabelValues(stage, result).Observe(seconds)
}
