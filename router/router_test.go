package router

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/graph"
	"github.com/vigraph/vg-server-sub000/modules"
	"github.com/vigraph/vg-server-sub000/tick"
	"github.com/vigraph/vg-server-sub000/value"
)

func pos(p ...uint32) tick.Position { return tick.Position(p) }

func readNumber(t *testing.T, r *Router, at tick.Position, name string) float64 {
	t.Helper()
	v, err := r.Read(at, name)
	require.NoError(t, err)
	if v.IsNone() {
		return -1
	}
	n, err := v.AsNumber()
	require.NoError(t, err)
	return n
}

func TestReadSeesEarlierPositionsOnly(t *testing.T) {
	r := New()

	require.NoError(t, r.Publish(pos(2), "level", value.Number(5)))

	assert.Equal(t, -1.0, readNumber(t, r, pos(1), "level"), "earlier reader sees previous commit")
	assert.Equal(t, -1.0, readNumber(t, r, pos(2), "level"), "publisher does not see its own write")
	assert.Equal(t, 5.0, readNumber(t, r, pos(3), "level"))
	assert.Equal(t, 5.0, readNumber(t, r, pos(2, 0), "level"), "nested position after the publisher")

	activity := r.EndTick()
	assert.Equal(t, map[string]int{"level": 1}, activity)

	// one tick later the early reader sees it
	assert.Equal(t, 5.0, readNumber(t, r, pos(1), "level"))
}

func TestLastWriteWinsByPosition(t *testing.T) {
	r := New()

	// publishes arrive out of tick order, as they may from parallel batches
	require.NoError(t, r.Publish(pos(4), "level", value.Number(40)))
	require.NoError(t, r.Publish(pos(1), "level", value.Number(10)))
	require.NoError(t, r.Publish(pos(3), "level", value.Number(30)))

	assert.Equal(t, 10.0, readNumber(t, r, pos(2), "level"))
	assert.Equal(t, 30.0, readNumber(t, r, pos(4), "level"))
	assert.Equal(t, 40.0, readNumber(t, r, pos(5), "level"))

	activity := r.EndTick()
	assert.Equal(t, 3, activity["level"])
	assert.Equal(t, 40.0, readNumber(t, r, pos(0), "level"))

	// a quiet tick keeps the committed value and reports no activity
	assert.Nil(t, r.EndTick())
	assert.Equal(t, 40.0, readNumber(t, r, pos(0), "level"))
}

func TestChannelTypeMismatch(t *testing.T) {
	r := New()
	require.NoError(t, r.Advertise("level", value.TypeNumber, "a"))

	err := r.Publish(pos(1), "level", value.Text("loud"))
	assert.ErrorIs(t, err, errors.ErrChannelTypeMismatch)
	assert.Equal(t, errors.ErrChannelTypeMismatch, errors.Kind(err))

	_, err = r.Subscribe("level", value.TypeColour, func(string, value.Value) {})
	assert.ErrorIs(t, err, errors.ErrChannelTypeMismatch)
	assert.ErrorIs(t, r.Listen("level", value.TypeText, "b"), errors.ErrChannelTypeMismatch)

	typ, ok := r.Type("level")
	require.True(t, ok)
	assert.Equal(t, value.TypeNumber, typ)
}

func TestSubscribeDeliversCommittedValue(t *testing.T) {
	r := New()

	var got []float64
	sub, err := r.Subscribe("level", value.TypeNumber, func(_ string, v value.Value) {
		n, _ := v.AsNumber()
		got = append(got, n)
	})
	require.NoError(t, err)
	assert.Equal(t, "level", sub.Channel())

	require.NoError(t, r.Publish(pos(1), "level", value.Number(1)))
	require.NoError(t, r.Publish(pos(2), "level", value.Number(2)))
	r.EndTick()
	r.EndTick()

	r.Unsubscribe(sub)
	require.NoError(t, r.Publish(pos(1), "level", value.Number(3)))
	r.EndTick()

	assert.Equal(t, []float64{2}, got)
}

func TestReceiverPanicIsContained(t *testing.T) {
	r := New()
	_, err := r.Subscribe("level", value.TypeNumber, func(string, value.Value) { panic("boom") })
	require.NoError(t, err)

	var seen bool
	r.OnCommit(func(string, value.Value) { seen = true })

	require.NoError(t, r.Publish(pos(1), "level", value.Number(1)))
	assert.NotPanics(t, func() { r.EndTick() })
	assert.True(t, seen)
}

func TestCollectDropsUnreferencedChannels(t *testing.T) {
	r := New()
	require.NoError(t, r.Advertise("kept", value.TypeNumber, "voice/send"))
	require.NoError(t, r.Listen("heard", value.TypeNumber, "voice/recv"))
	require.NoError(t, r.Publish(pos(1), "stray", value.Number(1)))
	r.EndTick()

	assert.Equal(t, []string{"stray"}, r.Collect())
	assert.Equal(t, []string{"heard", "kept"}, r.Channels())

	r.Release("voice/send")
	assert.Equal(t, []string{"kept"}, r.Collect())

	info := r.Describe()
	require.Len(t, info, 1)
	assert.Equal(t, "heard", info[0].Name)
	assert.Equal(t, []string{"voice/recv"}, info[0].Readers)
}

// buildRelay wires constant -> send and two receivers either side of it in tick order
func buildRelay(t *testing.T, parallelism int) *graph.Graph {
	t.Helper()
	reg, err := modules.NewRegistry()
	require.NoError(t, err)

	g := graph.New(graph.WithParallelism(parallelism))
	for _, n := range []struct {
		id, typ string
		props   map[string]value.Value
	}{
		{"early", "receive", map[string]value.Value{"channel": value.Text("bus")}},
		{"source", "constant", map[string]value.Value{"value": value.Number(5)}},
		{"send", "send", map[string]value.Value{"channel": value.Text("bus")}},
		{"late", "receive", map[string]value.Value{"channel": value.Text("bus")}},
	} {
		e, err := reg.Create(n.typ, n.props)
		require.NoError(t, err)
		require.NoError(t, g.AddElement(n.id, e))
	}
	require.NoError(t, g.Connect(graph.PinRef{Element: "source", Pin: "output"}, graph.PinRef{Element: "send", Pin: "input"}))
	return g
}

func graphNumber(t *testing.T, g *graph.Graph, path string) float64 {
	t.Helper()
	p, err := g.Pin(path)
	require.NoError(t, err)
	n, err := p.Read().AsNumber()
	require.NoError(t, err)
	return n
}

func TestOneTickLatency(t *testing.T) {
	for _, parallelism := range []int{1, 4} {
		g := buildRelay(t, parallelism)
		r := New()

		run := func(n uint64) tick.Report {
			report := g.Tick(&tick.Context{Tick: n, Start: time.Now(), Router: r})
			report.ChannelActivity = r.EndTick()
			return report
		}

		report := run(1)
		require.True(t, report.OK(), "parallelism %d: %v", parallelism, report.Faults)
		assert.Equal(t, 0.0, graphNumber(t, g, "early.output"), "parallelism %d", parallelism)
		assert.Equal(t, 5.0, graphNumber(t, g, "late.output"), "parallelism %d", parallelism)
		assert.Equal(t, map[string]int{"bus": 1}, report.ChannelActivity)

		run(2)
		assert.Equal(t, 5.0, graphNumber(t, g, "early.output"), "parallelism %d", parallelism)
		assert.Equal(t, 5.0, graphNumber(t, g, "late.output"), "parallelism %d", parallelism)
	}
}

func TestDiscardDropsOnePosition(t *testing.T) {
	r := New()
	require.NoError(t, r.Publish(pos(1), "level", value.Number(10)))
	require.NoError(t, r.Publish(pos(3), "level", value.Number(30)))

	r.Discard(pos(3))
	assert.Equal(t, 10.0, readNumber(t, r, pos(4), "level"))

	r.Discard(pos(1))
	assert.Equal(t, -1.0, readNumber(t, r, pos(4), "level"))
	assert.Nil(t, r.EndTick(), "nothing left to commit")
}

// flakySend publishes tick*100 on "bus", then fails on the tick named by fail_on
type flakySend struct {
	*element.Base
}

func (f *flakySend) Channels() []element.ChannelBinding {
	return []element.ChannelBinding{{Channel: "bus", Type: value.TypeNumber, Role: element.RolePublish}}
}

func (f *flakySend) Tick(ctx *tick.Context) error {
	if err := ctx.Publish("bus", value.Number(float64(ctx.Tick)*100)); err != nil {
		return err
	}
	if float64(ctx.Tick) == f.Number("fail_on") {
		return stderrors.New("link lost")
	}
	return nil
}

func TestFaultedPublisherIsDiscarded(t *testing.T) {
	for _, parallelism := range []int{1, 4} {
		reg, err := modules.NewRegistry()
		require.NoError(t, err)
		require.NoError(t, reg.Register(element.Registration{
			Type: "test/flaky-send",
			Properties: map[string]element.PropertySchema{
				"fail_on": {Type: value.TypeNumber, Default: value.Number(2)},
			},
			Factory: func(b *element.Base) (element.Element, error) { return &flakySend{Base: b}, nil },
		}))

		g := graph.New(graph.WithParallelism(parallelism))
		for _, n := range []struct{ id, typ string }{{"send", "test/flaky-send"}, {"late", "receive"}} {
			e, err := reg.Create(n.typ, map[string]value.Value{})
			require.NoError(t, err)
			require.NoError(t, g.AddElement(n.id, e))
		}
		recv, ok := g.Element("late")
		require.True(t, ok)
		require.NoError(t, recv.SetProperty("channel", value.Text("bus")))

		r := New()
		run := func(n uint64) tick.Report {
			report := g.Tick(&tick.Context{Tick: n, Start: time.Now(), Router: r})
			report.ChannelActivity = r.EndTick()
			return report
		}

		first := run(1)
		require.True(t, first.OK())
		assert.Equal(t, 100.0, graphNumber(t, g, "late.output"))

		report := run(2)
		require.True(t, report.HasFault("send"), "parallelism %d", parallelism)
		assert.Equal(t, 100.0, graphNumber(t, g, "late.output"), "parallelism %d: later readers never see the faulted publish", parallelism)
		assert.Empty(t, report.ChannelActivity)
		assert.Equal(t, 100.0, readNumber(t, r, nil, "bus"), "parallelism %d: the faulted publish is not committed", parallelism)

		third := run(3)
		require.True(t, third.OK())
		assert.Equal(t, 300.0, graphNumber(t, g, "late.output"))
	}
}

func TestCompatible(t *testing.T) {
	r := New()
	require.NoError(t, r.Advertise("level", value.TypeNumber, "a"))
	require.NoError(t, r.Listen("level", value.TypeNumber, "b"))

	assert.NoError(t, r.Compatible("level", value.TypeNumber, nil))
	assert.NoError(t, r.Compatible("fresh", value.TypeText, nil))

	err := r.Compatible("level", value.TypeText, func(h string) bool { return h == "a" })
	assert.ErrorIs(t, err, errors.ErrChannelTypeMismatch)
	assert.NoError(t, r.Compatible("level", value.TypeText, func(string) bool { return true }))

	sub, err := r.Subscribe("level", value.TypeNumber, func(string, value.Value) {})
	require.NoError(t, err)
	assert.ErrorIs(t, r.Compatible("level", value.TypeText, func(string) bool { return true }), errors.ErrChannelTypeMismatch)
	r.Unsubscribe(sub)
}
