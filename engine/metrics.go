package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vigraph/vg-server-sub000/metric"
	"github.com/vigraph/vg-server-sub000/tick"
)

// engineMetrics holds Prometheus metrics for the tick loop and control
// operations. A nil *engineMetrics records nothing.
type engineMetrics struct {
	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	faults       *prometheus.CounterVec // by element type

	transactions *prometheus.CounterVec // by outcome: accepted, rejected
	spawns       *prometheus.CounterVec // by outcome: spawned, despawned, rejected, limited

	channels prometheus.Gauge
	elements prometheus.Gauge
	state    prometheus.Gauge
}

// newEngineMetrics creates and registers engine metrics with the provided registry.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &engineMetrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "ticks_total",
			Help:      "Total number of ticks executed",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "tick_duration_seconds",
			Help:      "Time spent ticking the root graph",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "element_faults_total",
			Help:      "Element tick faults by element type",
		}, []string{"type"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "transactions_total",
			Help:      "Control transactions by outcome",
		}, []string{"outcome"}),
		spawns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "spawn_requests_total",
			Help:      "Spawn and despawn requests by outcome",
		}, []string{"outcome"}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "channels",
			Help:      "Router channels currently alive",
		}),
		elements: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "elements",
			Help:      "Elements ticked on the last tick",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "state",
			Help:      "Engine state (0=stopped, 1=running, 2=reloading)",
		}),
	}

	if err := registry.RegisterCounter("engine", "ticks", m.ticks); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("engine", "tick_duration", m.tickDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "element_faults", m.faults); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "transactions", m.transactions); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "spawn_requests", m.spawns); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "channels", m.channels); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "elements", m.elements); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "state", m.state); err != nil {
		return nil, err
	}

	return m, nil
}

// recordTick records one executed tick.
func (m *engineMetrics) recordTick(report tick.Report, took time.Duration) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(took.Seconds())
	m.elements.Set(float64(report.Elements))
	for _, f := range report.Faults {
		m.faults.WithLabelValues(f.Type).Inc()
	}
}

// recordTransaction records a transaction outcome.
func (m *engineMetrics) recordTransaction(accepted bool) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if !accepted {
		outcome = "rejected"
	}
	m.transactions.WithLabelValues(outcome).Inc()
}

func (m *engineMetrics) recordSpawn(outcome string) {
	if m != nil {
		m.spawns.WithLabelValues(outcome).Inc()
	}
}

func (m *engineMetrics) setChannels(n int) {
	if m != nil {
		m.channels.Set(float64(n))
	}
}

func (m *engineMetrics) setState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}
