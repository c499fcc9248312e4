package modules

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/tick"
	"github.com/vigraph/vg-server-sub000/value"
)

// fakeSpawner applies requests at once. Names in refuse are accepted but
// never become live, like a spawn the engine rejects between ticks.
type fakeSpawner struct {
	spawned   []string
	despawned []string
	live      map[string]bool
	refuse    map[string]bool
	limited   bool
}

func (f *fakeSpawner) Spawn(template, name string) error {
	if f.limited {
		return errors.WrapTransient(errors.ErrRateLimited, "fake", "Spawn", "rate limit")
	}
	f.spawned = append(f.spawned, template+":"+name)
	if !f.refuse[name] {
		f.live[template+":"+name] = true
	}
	return nil
}

func (f *fakeSpawner) Despawn(template, name string) error {
	f.despawned = append(f.despawned, name)
	delete(f.live, template+":"+name)
	return nil
}

func (f *fakeSpawner) Spawned(template, name string) bool {
	return f.live[template+":"+name]
}

// inline runs background jobs on the caller's goroutine
type inline struct {
	submitted int
}

func (b *inline) Submit(job func(context.Context) error) error {
	b.submitted++
	_ = job(context.Background())
	return nil
}

type fakeRouter struct {
	values map[string]value.Value
}

func (r *fakeRouter) Publish(_ tick.Position, channel string, v value.Value) error {
	r.values[channel] = v
	return nil
}

func (r *fakeRouter) Discard(tick.Position) {}

func (r *fakeRouter) Read(_ tick.Position, channel string) (value.Value, error) {
	return r.values[channel], nil
}

func create(t *testing.T, typ string, props map[string]value.Value) element.Element {
	t.Helper()
	reg, err := NewRegistry()
	require.NoError(t, err)
	e, err := reg.Create(typ, props)
	require.NoError(t, err)
	return e
}

func set(t *testing.T, e element.Element, pin string, v value.Value) {
	t.Helper()
	p, err := e.Pin(pin)
	require.NoError(t, err)
	require.NoError(t, p.Set(v))
}

func out(t *testing.T, e element.Element, pin string) value.Value {
	t.Helper()
	p, err := e.Pin(pin)
	require.NoError(t, err)
	return p.Read()
}

func number(t *testing.T, e element.Element, pin string) float64 {
	t.Helper()
	n, err := out(t, e, pin).AsNumber()
	require.NoError(t, err)
	return n
}

func TestRegister(t *testing.T) {
	reg := element.NewRegistry()
	require.NoError(t, Register(reg))
	assert.Equal(t, []string{
		"add", "constant", "counter", "file-reader", "pulse",
		"receive", "scale", "send", "spawn",
	}, reg.Types())

	err := Register(reg)
	require.Error(t, err, "second registration collides")
	assert.True(t, errors.IsInvalid(err))

	assert.True(t, errors.IsFatal(Register(nil)))
}

func TestArithmetic(t *testing.T) {
	ctx := &tick.Context{Tick: 1}

	c := create(t, "constant", map[string]value.Value{"value": value.Number(5)})
	require.NoError(t, c.Tick(ctx))
	assert.Equal(t, 5.0, number(t, c, "output"))

	s := create(t, "scale", nil)
	set(t, s, "input", value.Number(5))
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, 10.0, number(t, s, "output"), "factor defaults to 2")

	a := create(t, "add", nil)
	set(t, a, "a", value.Number(1.5))
	require.NoError(t, a.Tick(ctx))
	assert.Equal(t, 1.5, number(t, a, "output"), "unconnected b reads 0")
}

func TestCounterAndClone(t *testing.T) {
	ctx := &tick.Context{Tick: 1}
	c := create(t, "counter", map[string]value.Value{"step": value.Number(3)})

	set(t, c, "trigger", value.Trigger())
	require.NoError(t, c.Tick(ctx))
	require.NoError(t, c.Tick(ctx))
	assert.Equal(t, 6.0, number(t, c, "count"))

	set(t, c, "trigger", value.None())
	require.NoError(t, c.Tick(ctx))
	assert.Equal(t, 6.0, number(t, c, "count"))

	dst := create(t, "counter", nil)
	require.NoError(t, c.(element.Cloner).CloneState(dst))
	assert.Equal(t, 6.0, dst.(*Counter).Count())

	set(t, c, "reset", value.Trigger())
	require.NoError(t, c.Tick(ctx))
	assert.Equal(t, 0.0, number(t, c, "count"))
	assert.Equal(t, 6.0, dst.(*Counter).Count(), "clone is independent")
}

func TestPulse(t *testing.T) {
	p := create(t, "pulse", map[string]value.Value{"every": value.Number(3)})
	var fired []bool
	for i := 1; i <= 7; i++ {
		require.NoError(t, p.Tick(&tick.Context{Tick: uint64(i)}))
		fired = append(fired, out(t, p, "output").Fired())
	}
	assert.Equal(t, []bool{true, false, false, true, false, false, true}, fired)

	reg, err := NewRegistry()
	require.NoError(t, err)
	_, err = reg.Create("pulse", map[string]value.Value{"every": value.Number(0)})
	assert.Error(t, err, "every has a minimum of 1")
}

func TestSendReceive(t *testing.T) {
	r := &fakeRouter{values: map[string]value.Value{}}
	ctx := &tick.Context{Tick: 1, Router: r}

	send := create(t, "send", map[string]value.Value{"channel": value.Text("master")})
	recv := create(t, "receive", map[string]value.Value{"channel": value.Text("master")})

	require.NoError(t, recv.Tick(ctx))
	assert.Equal(t, 0.0, number(t, recv, "output"), "nothing published yet")

	set(t, send, "input", value.Number(7))
	require.NoError(t, send.Tick(ctx))
	require.NoError(t, recv.Tick(ctx))
	assert.Equal(t, 7.0, number(t, recv, "output"))

	assert.Equal(t, []element.ChannelBinding{
		{Channel: "master", Type: value.TypeNumber, Role: element.RolePublish},
	}, send.(element.ChannelUser).Channels())
	assert.Equal(t, element.RoleSubscribe, recv.(element.ChannelUser).Channels()[0].Role)

	unbound := create(t, "send", nil)
	assert.Empty(t, unbound.(element.ChannelUser).Channels())
}

func TestSpawn(t *testing.T) {
	sp := &fakeSpawner{live: map[string]bool{}}
	ctx := &tick.Context{Tick: 1, Spawner: sp}
	s := create(t, "spawn", map[string]value.Value{
		"template": value.Text("voice"),
		"prefix":   value.Text("v"),
	})

	set(t, s, "trigger", value.Trigger())
	require.NoError(t, s.Tick(ctx))
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, 2.0, number(t, s, "count"))
	assert.Equal(t, []string{"voice:v1", "voice:v2"}, sp.spawned)

	set(t, s, "trigger", value.None())
	set(t, s, "clear", value.Trigger())
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, 0.0, number(t, s, "count"))
	assert.Equal(t, []string{"v1", "v2"}, sp.despawned)

	assert.Empty(t, sp.live)

	detached := create(t, "spawn", map[string]value.Value{"template": value.Text("voice")})
	set(t, detached, "trigger", value.Trigger())
	require.NoError(t, detached.Tick(&tick.Context{Tick: 1}))
	assert.Equal(t, 0.0, number(t, detached, "count"))
}

func TestSpawnDropsRefusedClones(t *testing.T) {
	sp := &fakeSpawner{live: map[string]bool{}, refuse: map[string]bool{"v1": true}}
	ctx := &tick.Context{Tick: 1, Spawner: sp}
	s := create(t, "spawn", map[string]value.Value{
		"template": value.Text("voice"),
		"prefix":   value.Text("v"),
	})

	set(t, s, "trigger", value.Trigger())
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, 1.0, number(t, s, "count"), "pending until the next tick")

	sp.limited = true
	err := s.Tick(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRateLimited)

	sp.limited = false
	set(t, s, "trigger", value.None())
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, 0.0, number(t, s, "count"), "refused v1 is dropped")

	set(t, s, "trigger", value.Trigger())
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, []string{"voice:v1", "voice:v2"}, sp.spawned, "a limited request does not use up a number")

	set(t, s, "trigger", value.None())
	set(t, s, "clear", value.Trigger())
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, []string{"v2"}, sp.despawned, "never despawns what it did not spawn")
}

func TestFileReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lyrics.txt")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0o600))

	bg := &inline{}
	ctx := &tick.Context{Tick: 1, Background: bg}
	f := create(t, "file-reader", map[string]value.Value{"path": value.Text(path)})

	require.NoError(t, f.Tick(ctx), "first tick only schedules the read")
	require.NoError(t, f.Tick(ctx))
	text, err := out(t, f, "text").AsText()
	require.NoError(t, err)
	assert.Equal(t, "one", text)
	assert.Equal(t, 1, bg.submitted, "no reload, no new read")

	require.NoError(t, os.WriteFile(path, []byte("two"), 0o600))
	set(t, f, "reload", value.Trigger())
	require.NoError(t, f.Tick(ctx))
	set(t, f, "reload", value.None())
	require.NoError(t, f.Tick(ctx))
	text, _ = out(t, f, "text").AsText()
	assert.Equal(t, "two", text)

	require.NoError(t, os.Remove(path))
	set(t, f, "reload", value.Trigger())
	require.NoError(t, f.Tick(ctx))
	set(t, f, "reload", value.None())
	err = f.Tick(ctx)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, os.ErrNotExist))
}
