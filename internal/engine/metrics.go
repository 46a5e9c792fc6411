package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics - метрики генератора.
//
// * shard_engine_generate_duration_seconds{template} - histogram
// * shard_engine_phase_duration_seconds{phase} - histogram
// * shard_engine_generated_total{template} - counter
// * shard_engine_planned_total{template,cached} - counter
// * shard_engine_ignored_overrides_total - counter
// * shard_engine_errors_total{op,kind} - counter
type Metrics struct {
	generateDuration *prometheus.HistogramVec
	phaseDuration    *prometheus.HistogramVec
	generated        *prometheus.CounterVec
	planned          *prometheus.CounterVec
	ignoredOverrides prometheus.Counter
	errors           *prometheus.CounterVec
}

// NewMetrics создаёт метрики и регистрирует их в reg; nil оставляет их незарегистрированными
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		generateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shard_engine",
			Name:      "generate_duration_seconds",
			Help:      "Полное время генерации шарда, включая запись на диск.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"template"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shard_engine",
			Name:      "phase_duration_seconds",
			Help:      "Время отдельных этапов генерации.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"phase"}),
		generated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shard_engine",
			Name:      "generated_total",
			Help:      "Число сохранённых шардов.",
		}, []string{"template"}),
		planned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shard_engine",
			Name:      "planned_total",
			Help:      "Число построенных планов.",
		}, []string{"template", "cached"}),
		ignoredOverrides: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shard_engine",
			Name:      "ignored_overrides_total",
			Help:      "Переопределения, не совпавшие ни с одним ключом шаблона.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shard_engine",
			Name:      "errors_total",
			Help:      "Ошибки plan/generate по виду.",
		}, []string{"op", "kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.generateDuration, m.phaseDuration, m.generated, m.planned, m.ignoredOverrides, m.errors)
	}
	return m
}

func (m *Metrics) observePhase(phase string, start time.Time) {
	m.phaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}
