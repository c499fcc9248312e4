package buffer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vigraph/vg-server-sub000/metric"
)

type bufferMetrics struct {
	writes prometheus.Counter
	reads  prometheus.Counter
	drops  prometheus.Counter
	size   prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	m := &bufferMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "writes_total",
			ConstLabels: labels,
			Help:        "Total number of buffer writes",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "reads_total",
			ConstLabels: labels,
			Help:        "Total number of items removed by reads",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "drops_total",
			ConstLabels: labels,
			Help:        "Total number of items dropped on overflow",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Current number of items in the buffer",
		}),
	}

	service := "buffer_" + prefix
	steps := []struct {
		name string
		fn   func() error
	}{
		{"writes", func() error { return registry.RegisterCounter(service, "writes", m.writes) }},
		{"reads", func() error { return registry.RegisterCounter(service, "reads", m.reads) }},
		{"drops", func() error { return registry.RegisterCounter(service, "drops", m.drops) }},
		{"size", func() error { return registry.RegisterGauge(service, "size", m.size) }},
	}
	for i, s := range steps {
		if err := s.fn(); err != nil {
			for _, done := range steps[:i] {
				registry.Unregister(service, done.name)
			}
			return nil, err
		}
	}
	return m, nil
}

func (m *bufferMetrics) recordWrite(size int) {
	m.writes.Inc()
	m.size.Set(float64(size))
}

func (m *bufferMetrics) recordRead(n, size int) {
	m.reads.Add(float64(n))
	m.size.Set(float64(size))
}

func (m *bufferMetrics) recordDrop() {
	m.drops.Inc()
}
