package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// busCollector читает Stats шины в момент сбора метрик
type busCollector struct {
	bus EventBus

	published *prometheus.Desc
	consumed  *prometheus.Desc
	dropped   *prometheus.Desc
	inflight  *prometheus.Desc
}

// RegisterMetrics регистрирует счётчики шины в reg под shard_engine_eventbus_*.
// Работает с любой реализацией EventBus.
func RegisterMetrics(bus EventBus, reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("shard_engine", "eventbus", name), help, nil, nil)
	}
	return reg.Register(&busCollector{
		bus:       bus,
		published: desc("published_total", "Опубликовано событий."),
		consumed:  desc("consumed_total", "Событий, обработанных подписчиками."),
		dropped:   desc("dropped_total", "Событий, отброшенных при переполнении или ошибке."),
		inflight:  desc("inflight", "Событий в буфере, ещё не разданных подписчикам."),
	})
}

func (c *busCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.published
	ch <- c.consumed
	ch <- c.dropped
	ch <- c.inflight
}

func (c *busCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.bus.Metrics()
	ch <- prometheus.MustNewConstMetric(c.published, prometheus.CounterValue, float64(s.Published))
	ch <- prometheus.MustNewConstMetric(c.consumed, prometheus.CounterValue, float64(s.Consumed))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped))
	ch <- prometheus.MustNewConstMetric(c.inflight, prometheus.GaugeValue, float64(s.InFlight))
}
