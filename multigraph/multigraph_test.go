package multigraph

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

type broken struct {
	*element.Base
}

func (b *broken) Tick(_ *tick.Context) error { return stderrors.New("no signal") }

func newTestRegistry(t *testing.T) *element.Registry {
	t.Helper()
	reg, err := modules.NewRegistry()
	require.NoError(t, err)
	require.NoError(t, reg.Register(element.Registration{
		Type:    "test/broken",
		Outputs: []element.PinSpec{{Name: "output", Type: value.TypeNumber}},
		Factory: func(b *element.Base) (element.Element, error) { return &broken{Base: b}, nil },
	}))
	return reg
}

// sub builds an unconnected graph from id/type pairs
func sub(t *testing.T, reg *element.Registry, pairs ...string) *graph.Graph {
	t.Helper()
	g := graph.New()
	for i := 0; i < len(pairs); i += 2 {
		e, err := reg.Create(pairs[i+1], nil)
		require.NoError(t, err)
		require.NoError(t, g.AddElement(pairs[i], e))
	}
	return g
}

func constant(t *testing.T, reg *element.Registry, id string, v float64) *graph.Graph {
	t.Helper()
	g := graph.New()
	e, err := reg.Create("constant", map[string]value.Value{"value": value.Number(v)})
	require.NoError(t, err)
	require.NoError(t, g.AddElement(id, e))
	return g
}

func read(t *testing.T, u graph.Unit, path string) float64 {
	t.Helper()
	p, err := u.Pin(path)
	require.NoError(t, err)
	n, err := p.Read().AsNumber()
	require.NoError(t, err)
	return n
}

func tickOnce(u graph.Unit, n uint64) tick.Report {
	return u.Tick(&tick.Context{Tick: n, Start: time.Unix(int64(n), 0)})
}

func TestConnectAcrossSubgraphs(t *testing.T) {
	reg := newTestRegistry(t)
	m := New()

	// consumer inserted first still ticks after its source
	require.NoError(t, m.AddSubgraph("dst", sub(t, reg, "s", "scale")))
	require.NoError(t, m.AddSubgraph("src", constant(t, reg, "c", 3)))
	require.NoError(t, m.Connect("src.c.output", "dst.s.input"))

	assert.Equal(t, []string{"src", "dst"}, m.Order())

	report := tickOnce(m, 1)
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.Elements)
	assert.Equal(t, 6.0, read(t, m, "dst.s.output"))
}

func TestConnectChecks(t *testing.T) {
	reg := newTestRegistry(t)
	m := New()
	require.NoError(t, m.AddSubgraph("a", sub(t, reg, "s", "scale")))
	require.NoError(t, m.AddSubgraph("b", sub(t, reg, "s", "scale", "n", "counter")))

	err := m.Connect("a.s.output", "b.n.trigger")
	assert.Equal(t, errors.ErrTypeMismatch, errors.Kind(err), "got %v", err)

	err = m.Connect("a.s.output", "nowhere.s.input")
	assert.ErrorIs(t, err, errors.ErrUnknownPin)

	err = m.Connect("a.s.input", "b.s.input")
	assert.ErrorIs(t, err, errors.ErrUnknownPin)

	err = m.Connect("a", "b.s.input")
	assert.ErrorIs(t, err, errors.ErrUnknownPin)

	require.NoError(t, m.Connect("a.s.output", "b.s.input"))
	err = m.Connect("b.s.output", "a.s.input")
	assert.ErrorIs(t, err, errors.ErrCyclicGraph)

	err = m.Connect("b.s.output", "b.n.reset")
	assert.Error(t, err)

	assert.Len(t, m.Connections(), 1)
}

func TestSingleSourcePerInput(t *testing.T) {
	reg := newTestRegistry(t)
	m := New()
	require.NoError(t, m.AddSubgraph("a", constant(t, reg, "c", 1)))
	require.NoError(t, m.AddSubgraph("b", constant(t, reg, "c", 2)))
	require.NoError(t, m.AddSubgraph("sink", sub(t, reg, "s", "scale")))

	require.NoError(t, m.Connect("a.c.output", "sink.s.input"))
	assert.Error(t, m.Connect("b.c.output", "sink.s.input"))

	require.NoError(t, m.Disconnect("a.c.output", "sink.s.input"))
	require.NoError(t, m.Connect("b.c.output", "sink.s.input"))

	tickOnce(m, 1)
	assert.Equal(t, 4.0, read(t, m, "sink.s.output"))
}

func TestBoundaryPins(t *testing.T) {
	reg := newTestRegistry(t)

	inner := New()
	require.NoError(t, inner.AddSubgraph("osc", constant(t, reg, "c", 5)))
	require.NoError(t, inner.ExposePin("out", "osc", "c.output"))

	assert.Error(t, inner.ExposePin("out", "osc", "c.output"))
	assert.ErrorIs(t, inner.ExposePin("other", "osc", "c.missing"), errors.ErrUnknownPin)
	assert.ErrorIs(t, inner.ExposePin("other", "nope", "c.output"), errors.ErrUnknownPin)

	direct, err := inner.Pin("osc.c.output")
	require.NoError(t, err)
	exposed, err := inner.Pin("out")
	require.NoError(t, err)
	assert.Same(t, direct, exposed)

	boundary := inner.Boundary()
	require.Len(t, boundary, 1)
	assert.Equal(t, value.TypeNumber, boundary[0].Type)

	outer := New()
	require.NoError(t, outer.AddSubgraph("voice", inner))
	require.NoError(t, outer.AddSubgraph("fx", sub(t, reg, "s", "scale")))
	require.NoError(t, outer.Connect("voice.out", "fx.s.input"))

	tickOnce(outer, 1)
	assert.Equal(t, 10.0, read(t, outer, "fx.s.output"))
	assert.Equal(t, 5.0, read(t, outer, "voice.osc.c.output"))
}

func TestNestedFaultReporting(t *testing.T) {
	reg := newTestRegistry(t)

	inner := New()
	require.NoError(t, inner.AddSubgraph("leaf", sub(t, reg, "x", "test/broken", "ok", "constant")))
	outer := New()
	require.NoError(t, outer.AddSubgraph("mid", inner))

	report := tickOnce(outer, 1)
	require.Len(t, report.Faults, 1)
	assert.Equal(t, "mid/leaf/x", report.Faults[0].Element)
	assert.Equal(t, "test/broken", report.Faults[0].Type)
	assert.ErrorIs(t, report.Faults[0].Err, errors.ErrElementFault)
	assert.Equal(t, 2, report.Elements)
}

func TestReplaceSubgraph(t *testing.T) {
	reg := newTestRegistry(t)
	m := New()
	require.NoError(t, m.AddSubgraph("src", constant(t, reg, "c", 3)))
	require.NoError(t, m.AddSubgraph("dst", sub(t, reg, "s", "scale")))
	require.NoError(t, m.Connect("src.c.output", "dst.s.input"))

	// same shape, so the connection survives
	old, dropped, err := m.ReplaceSubgraph("src", constant(t, reg, "c", 7))
	require.NoError(t, err)
	assert.Empty(t, dropped)
	require.NoError(t, old.Close())

	tickOnce(m, 1)
	assert.Equal(t, 14.0, read(t, m, "dst.s.output"))

	// the replacement has no "c", so the connection is dropped
	_, dropped, err = m.ReplaceSubgraph("src", constant(t, reg, "k", 1))
	require.NoError(t, err)
	require.Len(t, dropped, 1)
	assert.Equal(t, "src.c.output -> dst.s.input", dropped[0].String())
	assert.Empty(t, m.Connections())

	in, err := m.Pin("dst.s.input")
	require.NoError(t, err)
	assert.Nil(t, in.Source())

	_, _, err = m.ReplaceSubgraph("missing", constant(t, reg, "c", 1))
	assert.ErrorIs(t, err, errors.ErrUnknownPin)
}

func TestRemoveSubgraph(t *testing.T) {
	reg := newTestRegistry(t)
	m := New()
	require.NoError(t, m.AddSubgraph("src", constant(t, reg, "c", 3)))
	require.NoError(t, m.AddSubgraph("dst", sub(t, reg, "s", "scale")))
	require.NoError(t, m.Connect("src.c.output", "dst.s.input"))
	require.NoError(t, m.ExposePin("level", "src", "c.output"))

	removed, err := m.RemoveSubgraph("src")
	require.NoError(t, err)
	require.NotNil(t, removed)

	assert.Equal(t, []string{"dst"}, m.Names())
	assert.Empty(t, m.Connections())
	assert.Empty(t, m.Boundary())

	in, err := m.Pin("dst.s.input")
	require.NoError(t, err)
	assert.Nil(t, in.Source())

	_, err = m.RemoveSubgraph("src")
	assert.ErrorIs(t, err, errors.ErrUnknownPin)
}

func TestRefreshAfterInternalRemoval(t *testing.T) {
	reg := newTestRegistry(t)
	src := constant(t, reg, "c", 3)
	m := New()
	require.NoError(t, m.AddSubgraph("src", src))
	require.NoError(t, m.AddSubgraph("dst", sub(t, reg, "s", "scale")))
	require.NoError(t, m.Connect("src.c.output", "dst.s.input"))

	_, err := src.RemoveElement("c")
	require.NoError(t, err)

	dropped := m.Refresh()
	require.Len(t, dropped, 1)
	assert.Empty(t, m.Connections())

	in, err := m.Pin("dst.s.input")
	require.NoError(t, err)
	assert.Nil(t, in.Source())
}

func TestViewAndClose(t *testing.T) {
	reg := newTestRegistry(t)
	m := New()
	require.NoError(t, m.AddSubgraph("a", constant(t, reg, "c", 1)))
	require.NoError(t, m.AddSubgraph("b", sub(t, reg, "s", "scale")))
	require.NoError(t, m.Connect("a.c.output", "b.s.input"))

	err := m.View(func(subs []Sub, conns []graph.Connection, boundary []Boundary) error {
		assert.Len(t, subs, 2)
		assert.Equal(t, "a", subs[0].Name)
		assert.Len(t, conns, 1)
		assert.Empty(t, boundary)
		return nil
	})
	require.NoError(t, err)

	assert.Error(t, m.AddSubgraph("a", graph.New()))
	assert.Error(t, m.AddSubgraph("bad.name", graph.New()))

	require.NoError(t, m.Close())
	assert.Empty(t, m.Names())
}
