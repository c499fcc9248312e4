package natsclient

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/metric"
)

// unreachable is a loopback port nothing listens on.
const unreachable = "nats://127.0.0.1:1"

func TestConnectionStatusString(t *testing.T) {
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestOptionValidation(t *testing.T) {
	_, err := NewClient(unreachable, WithCircuitBreakerThreshold(0))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewClient(unreachable, WithMaxBackoff(time.Millisecond))
	require.Error(t, err)

	c, err := NewClient(unreachable, WithLogger(nil), WithName("vg-engine"))
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Equal(t, unreachable, c.URL())
}

func TestConnectionOptions(t *testing.T) {
	health := make(chan bool, 1)
	c, err := NewClient(unreachable,
		WithPingInterval(5*time.Second),
		WithDrainTimeout(time.Second),
		WithHealthChangeCallback(func(healthy bool) { health <- healthy }))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.pingInterval)
	assert.Equal(t, time.Second, c.drainTimeout)

	c.notifyHealth(false)
	select {
	case healthy := <-health:
		assert.False(t, healthy)
	case <-time.After(time.Second):
		t.Fatal("health callback not called")
	}

	d, err := NewClient(unreachable, WithPingInterval(0), WithDrainTimeout(0))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d.pingInterval, "zero keeps the default")
	assert.Equal(t, 30*time.Second, d.drainTimeout)

	_, err = NewClient(unreachable, WithPingInterval(-time.Second))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	_, err = NewClient(unreachable, WithDrainTimeout(-time.Second))
	require.Error(t, err)
}

func TestOperationsRequireConnection(t *testing.T) {
	c, err := NewClient(unreachable)
	require.NoError(t, err)
	ctx := context.Background()

	err = c.Publish(ctx, "vigraph.reports", []byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, errors.IsTransient(err))

	err = c.Subscribe(ctx, "vigraph.>", func(context.Context, []byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.JetStream()
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.NoError(t, c.Close(ctx))
	assert.NoError(t, c.Close(ctx), "second close is a no-op")
}

func TestCircuitBreakerOpens(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	c, err := NewClient(unreachable,
		WithCircuitBreakerThreshold(2),
		WithMaxReconnects(0),
		WithTimeout(200*time.Millisecond),
		WithMetrics(reg))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = c.Connect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnectionLost)
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Equal(t, int32(1), c.Failures())

	err = c.Connect(ctx)
	assert.True(t, stderrors.Is(err, ErrCircuitOpen))
	assert.Equal(t, StatusCircuitOpen, c.Status())
	assert.Equal(t, 2*time.Second, c.Backoff(), "backoff doubles when the circuit opens")
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.CoreMetrics().NATSCircuitBreaker))
	assert.Equal(t, 0.0, testutil.ToFloat64(reg.CoreMetrics().NATSConnected))

	assert.ErrorIs(t, c.Connect(ctx), ErrCircuitOpen, "open circuit fails fast")

	assert.Eventually(t, func() bool { return c.Status() == StatusDisconnected },
		3*time.Second, 20*time.Millisecond, "circuit half-opens after the backoff")
}

func TestWaitForConnectionTimesOut(t *testing.T) {
	c, err := NewClient(unreachable)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = c.WaitForConnection(ctx)
	assert.ErrorIs(t, err, errors.ErrConnectionTimeout)
}
