package tick

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionOrder(t *testing.T) {
	root := Position{}
	a := root.Child(0)
	b := root.Child(1)
	a2 := a.Child(2)

	assert.True(t, a.Before(b))
	assert.True(t, a.Before(a2), "prefix sorts first")
	assert.True(t, a2.Before(b))
	assert.Equal(t, 0, a2.Compare(Position{0, 2}))
	assert.Equal(t, "0.2", a2.String())

	// Child must not alias the parent's backing array
	x := Position{0, 1}
	y := x[:1].Child(5)
	assert.Equal(t, Position{0, 1}, x)
	assert.Equal(t, Position{0, 5}, y)
}

func TestReportMerge(t *testing.T) {
	var r Report
	r.Elements = 2
	r.Faults = []Fault{{Element: "a", Reason: "x"}}

	r.Merge(Report{Elements: 3, Faults: []Fault{{Element: "osc", Err: errors.New("boom")}}}, "voice1")

	assert.Equal(t, 5, r.Elements)
	assert.Equal(t, []string{"a", "voice1/osc"}, r.Faulted())
	assert.True(t, r.HasFault("voice1/osc"))
	assert.False(t, r.OK())
}

func TestContextWithoutRouter(t *testing.T) {
	c := &Context{}
	v, err := c.Receive("anything")
	assert.NoError(t, err)
	assert.True(t, v.IsNone())
	assert.NoError(t, c.Publish("anything", v))
	assert.NotNil(t, c.Log())

	at := c.At(Position{3}, "b")
	assert.Equal(t, "b", at.ElementID)
	assert.Empty(t, c.ElementID)
}
