package health

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigraph/vg-server-sub000/metric"
)

func TestAggregateTakesWorstState(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want State
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{NewUnhealthy("a", ""), NewDegraded("b", "")}, StateUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("engine", tt.subs)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.want == StateHealthy, got.Healthy)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestWithSubStatusDoesNotShare(t *testing.T) {
	base := NewHealthy("engine", "").WithSubStatus(NewHealthy("router", ""))
	a := base.WithSubStatus(NewHealthy("a", ""))
	b := base.WithSubStatus(NewHealthy("b", ""))
	assert.Equal(t, "a", a.SubStatuses[1].Component)
	assert.Equal(t, "b", b.SubStatuses[1].Component)
	assert.Len(t, base.SubStatuses, 1)
}

func TestFromErrorSanitizes(t *testing.T) {
	assert.True(t, FromError("nats", nil).IsHealthy())

	s := FromError("nats", errors.New("dial nats://10.0.0.4:4222 failed, password=hunter2"))
	require.True(t, s.IsUnhealthy())
	assert.NotContains(t, s.Message, "10.0.0.4")
	assert.NotContains(t, s.Message, "hunter2")
	assert.Contains(t, s.Message, "[URL]")
	assert.Contains(t, s.Message, "[REDACTED]")

	s = FromError("store", errors.New("open /var/lib/vigraph/graph.yaml: denied"))
	assert.Equal(t, "open [PATH]: denied", s.Message)
}

func TestMonitor(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	m := NewMonitor(reg.CoreMetrics())

	m.UpdateHealthy("router", "ok")
	m.UpdateDegraded("nats", "reconnecting")
	m.Update("engine", Status{Status: StateHealthy, Healthy: true})

	assert.Equal(t, []string{"engine", "nats", "router"}, m.ListComponents())

	got, ok := m.Get("engine")
	require.True(t, ok)
	assert.Equal(t, "engine", got.Component)
	assert.False(t, got.Timestamp.IsZero())

	agg := m.AggregateHealth("vigraph")
	assert.True(t, agg.IsDegraded())
	assert.Equal(t, "nats", agg.SubStatuses[1].Component)

	assert.Equal(t, 0.0, testutil.ToFloat64(reg.CoreMetrics().HealthCheckStatus.WithLabelValues("nats")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.CoreMetrics().HealthCheckStatus.WithLabelValues("router")))

	m.Remove("nats")
	assert.True(t, m.AggregateHealth("vigraph").IsHealthy())
}
