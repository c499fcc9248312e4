package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigraph/vg-server-sub000/errors"
)

func TestAsExpectedType(t *testing.T) {
	n, err := Number(5).AsNumber()
	require.NoError(t, err)
	assert.Equal(t, 5.0, n)

	_, err = Number(5).AsText()
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)

	_, err = None().AsNumber()
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)

	c, err := Colour(1, 0.5, 0, 1).AsColour()
	require.NoError(t, err)
	assert.Equal(t, RGBA{R: 1, G: 0.5, B: 0, A: 1}, c)
}

func TestEqual(t *testing.T) {
	buf := NewBuffer(2, 1, []float32{0.1, 0.2})
	same := NewBuffer(2, 1, []float32{0.1, 0.2})

	tests := []struct {
		name  string
		a, b  Value
		equal bool
	}{
		{"numbers", Number(1), Number(1), true},
		{"different numbers", Number(1), Number(2), false},
		{"number vs text", Number(1), Text("1"), false},
		{"triggers", Trigger(), Trigger(), true},
		{"none vs trigger", None(), Trigger(), false},
		{"vectors", Vector(1, 2, 3), Vector(1, 2, 3), true},
		{"waveform content", Waveform(buf), Waveform(same), true},
		{"bitmap vs waveform", Bitmap(buf), Waveform(buf), false},
		{"dmx universe", DmxFrame(1, []byte{255}), DmxFrame(2, []byte{255}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, tt.a.Equal(tt.b))
		})
	}
}

func TestCloneSharesBuffer(t *testing.T) {
	buf := NewBuffer(4, 1, []float32{1, 2, 3, 4})
	v := Waveform(buf)
	assert.Equal(t, 1, buf.Refs())

	shared := v.Clone()
	assert.Equal(t, 2, buf.Refs())
	got, err := shared.AsWaveform()
	require.NoError(t, err)
	assert.Same(t, buf, got)

	deep := v.DeepClone()
	deepBuf, err := deep.AsWaveform()
	require.NoError(t, err)
	assert.NotSame(t, buf, deepBuf)
	assert.Equal(t, 1, deepBuf.Refs())
	assert.True(t, deep.Equal(v))

	shared.Release()
	v.Release()
	assert.Equal(t, 0, buf.Refs())
	v.Release()
	assert.Equal(t, 0, buf.Refs())
}

func TestBinaryIsImmutable(t *testing.T) {
	src := []byte{1, 2, 3}
	v := Binary(src)
	src[0] = 9

	got, err := v.AsBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	got[1] = 9
	again, _ := v.AsBinary()
	assert.Equal(t, []byte{1, 2, 3}, again)
}

func TestZero(t *testing.T) {
	assert.True(t, Zero(TypeNumber).Equal(Number(0)))
	assert.True(t, Zero(TypeTrigger).IsNone())
	assert.True(t, Zero(TypeText).Fits(TypeText))
	assert.True(t, None().Fits(TypeColour))
	assert.False(t, Number(1).Fits(TypeTrigger))
}

func TestParseType(t *testing.T) {
	for typ, name := range typeNames {
		parsed, err := ParseType(name)
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}

	c, err := ParseType("Color")
	require.NoError(t, err)
	assert.Equal(t, TypeColour, c)

	_, err = ParseType("quaternion")
	assert.ErrorIs(t, err, errors.ErrUnknownType)
}

func TestFromAny(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		in      any
		want    Value
		wantErr bool
	}{
		{"int number", TypeNumber, 5, Number(5), false},
		{"float number", TypeNumber, 2.5, Number(2.5), false},
		{"string number", TypeNumber, "five", None(), true},
		{"trigger true", TypeTrigger, true, Trigger(), false},
		{"trigger false", TypeTrigger, false, None(), false},
		{"text", TypeText, "hello", Text("hello"), false},
		{"hex colour", TypeColour, "#ff0000", Colour(1, 0, 0, 1), false},
		{"map colour default alpha", TypeColour, map[string]any{"r": 0, "g": 1, "b": 0}, Colour(0, 1, 0, 1), false},
		{"list colour", TypeColour, []any{0.5, 0.5, 0.5, 0.25}, Colour(0.5, 0.5, 0.5, 0.25), false},
		{"bad colour", TypeColour, "#zz", None(), true},
		{"vector list", TypeVector, []any{1, 2}, Vector(1, 2, 0), false},
		{"vector map", TypeVector, map[string]any{"z": 3}, Vector(0, 0, 3), false},
		{"binary base64", TypeBinary, "AQID", Binary([]byte{1, 2, 3}), false},
		{"midi", TypeMidiEvent, map[string]any{"status": 0x90, "data1": 60, "data2": 127}, MidiEvent(0x90, 60, 127), false},
		{"dmx", TypeDmxFrame, map[string]any{"universe": 1, "channels": []any{0, 128, 255}}, DmxFrame(1, []byte{0, 128, 255}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.typ, tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrTypeMismatch)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)

			back, err := FromAny(tt.typ, got.Interface())
			if got.IsNone() {
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(back))
		})
	}
}

func TestCodecCompressesLargeBuffers(t *testing.T) {
	samples := make([]float32, 4096)
	for i := range samples {
		samples[i] = float32(i%64) / 64
	}
	v := Bitmap(NewBuffer(32, 32, samples))

	data, err := Encode(v)
	require.NoError(t, err)
	assert.Less(t, len(data), 4*len(samples), "expected zstd to shrink a repetitive payload")

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, v.Equal(decoded))

	buf, err := decoded.AsBitmap()
	require.NoError(t, err)
	assert.Equal(t, 1, buf.Refs())
}

func TestCodecScalars(t *testing.T) {
	for _, v := range []Value{None(), Trigger(), Number(-1.5), Text("λ"), Colour(0, 0, 1, 1), MidiEvent(0x80, 1, 2), DmxFrame(3, []byte{9})} {
		data, err := Encode(v)
		require.NoError(t, err)
		decoded, err := Decode(data)
		require.NoError(t, err)
		assert.True(t, v.Equal(decoded), "round trip of %s gave %s", v, decoded)
	}

	_, err := Decode([]byte{0xc1})
	assert.Error(t, err)
}
