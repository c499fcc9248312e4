// Package value defines the typed units of data that flow between element pins.
package value

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/vigraph/vg-server-sub000/errors"
)

// Type is the static type tag of a Value and of the pins that carry it
type Type uint8

// Value types. TypeNone marks the absence of a value.
const (
	TypeNone Type = iota
	TypeNumber
	TypeTrigger
	TypeText
	TypeColour
	TypeVector
	TypeBitmap
	TypeWaveform
	TypeBinary
	TypeMidiEvent
	TypeDmxFrame
)

var typeNames = map[Type]string{
	TypeNone:      "none",
	TypeNumber:    "number",
	TypeTrigger:   "trigger",
	TypeText:      "text",
	TypeColour:    "colour",
	TypeVector:    "vector",
	TypeBitmap:    "bitmap",
	TypeWaveform:  "waveform",
	TypeBinary:    "binary",
	TypeMidiEvent: "midi",
	TypeDmxFrame:  "dmx",
}

// String returns the lower-case type name used in descriptions
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType maps a type name to its Type. "color" is accepted as an alias.
func ParseType(name string) (Type, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "color" {
		return TypeColour, nil
	}
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return TypeNone, errors.Errorf(errors.ErrUnknownType, "unknown value type %q", name)
}

// MarshalText implements encoding.TextMarshaler
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// RGBA is a colour with components in the range 0..1
type RGBA struct {
	R, G, B, A float64
}

// Vec3 is a point or direction in 3D space
type Vec3 struct {
	X, Y, Z float64
}

// Midi is a single MIDI channel message
type Midi struct {
	Status byte
	Data1  byte
	Data2  byte
}

// DmxUniverseSize is the number of channel slots in a DMX universe
const DmxUniverseSize = 512

// Value is an immutable, tagged unit of data. The zero Value has TypeNone.
//
// Bitmap and waveform payloads live in reference-counted Buffers: Clone shares
// the buffer, DeepClone copies it.
type Value struct {
	typ      Type
	num      float64
	str      string
	colour   RGBA
	vec      Vec3
	buf      *Buffer
	raw      []byte
	midi     Midi
	universe int
}

// None returns the empty value
func None() Value { return Value{} }

// Number returns a Number value
func Number(f float64) Value { return Value{typ: TypeNumber, num: f} }

// Trigger returns a fired Trigger value
func Trigger() Value { return Value{typ: TypeTrigger} }

// Text returns a Text value
func Text(s string) Value { return Value{typ: TypeText, str: s} }

// Colour returns a Colour value
func Colour(r, g, b, a float64) Value {
	return Value{typ: TypeColour, colour: RGBA{R: r, G: g, B: b, A: a}}
}

// Vector returns a Vector value
func Vector(x, y, z float64) Value {
	return Value{typ: TypeVector, vec: Vec3{X: x, Y: y, Z: z}}
}

// Bitmap returns a Bitmap value holding a new reference to buf
func Bitmap(buf *Buffer) Value {
	buf.Retain()
	return Value{typ: TypeBitmap, buf: buf}
}

// Waveform returns a Waveform value holding a new reference to buf
func Waveform(buf *Buffer) Value {
	buf.Retain()
	return Value{typ: TypeWaveform, buf: buf}
}

// Binary returns a Binary value holding a copy of b
func Binary(b []byte) Value {
	return Value{typ: TypeBinary, raw: bytes.Clone(b)}
}

// MidiEvent returns a MidiEvent value
func MidiEvent(status, data1, data2 byte) Value {
	return Value{typ: TypeMidiEvent, midi: Midi{Status: status, Data1: data1, Data2: data2}}
}

// DmxFrame returns a DmxFrame value for a universe. Channels beyond
// DmxUniverseSize are dropped.
func DmxFrame(universe int, channels []byte) Value {
	if len(channels) > DmxUniverseSize {
		channels = channels[:DmxUniverseSize]
	}
	return Value{typ: TypeDmxFrame, universe: universe, raw: bytes.Clone(channels)}
}

// Zero returns the value an unconnected pin of type t reads when it declares no
// default. Event-like types (trigger, midi, bitmap, waveform, dmx) read as None.
func Zero(t Type) Value {
	switch t {
	case TypeNumber:
		return Number(0)
	case TypeText:
		return Text("")
	case TypeColour:
		return Colour(0, 0, 0, 0)
	case TypeVector:
		return Vector(0, 0, 0)
	case TypeBinary:
		return Value{typ: TypeBinary}
	default:
		return None()
	}
}

// Type returns the value's type tag
func (v Value) Type() Type { return v.typ }

// IsNone reports whether v carries no value
func (v Value) IsNone() bool { return v.typ == TypeNone }

// Fired reports whether v is a Trigger
func (v Value) Fired() bool { return v.typ == TypeTrigger }

// Fits reports whether v may be held by a pin declared as t. None fits any type.
func (v Value) Fits(t Type) bool {
	return v.typ == TypeNone || v.typ == t
}

func (v Value) expect(t Type) error {
	if v.typ != t {
		return errors.Errorf(errors.ErrTypeMismatch, "expected %s, got %s", t, v.typ)
	}
	return nil
}

// AsNumber reads v as a Number
func (v Value) AsNumber() (float64, error) {
	if err := v.expect(TypeNumber); err != nil {
		return 0, err
	}
	return v.num, nil
}

// AsText reads v as Text
func (v Value) AsText() (string, error) {
	if err := v.expect(TypeText); err != nil {
		return "", err
	}
	return v.str, nil
}

// AsColour reads v as a Colour
func (v Value) AsColour() (RGBA, error) {
	if err := v.expect(TypeColour); err != nil {
		return RGBA{}, err
	}
	return v.colour, nil
}

// AsVector reads v as a Vector
func (v Value) AsVector() (Vec3, error) {
	if err := v.expect(TypeVector); err != nil {
		return Vec3{}, err
	}
	return v.vec, nil
}

// AsBitmap reads v as a Bitmap. The returned buffer is shared and must not be
// modified.
func (v Value) AsBitmap() (*Buffer, error) {
	if err := v.expect(TypeBitmap); err != nil {
		return nil, err
	}
	return v.buf, nil
}

// AsWaveform reads v as a Waveform. The returned buffer is shared and must not
// be modified.
func (v Value) AsWaveform() (*Buffer, error) {
	if err := v.expect(TypeWaveform); err != nil {
		return nil, err
	}
	return v.buf, nil
}

// AsBinary reads v as Binary, returning a copy of its bytes
func (v Value) AsBinary() ([]byte, error) {
	if err := v.expect(TypeBinary); err != nil {
		return nil, err
	}
	return bytes.Clone(v.raw), nil
}

// AsMidi reads v as a MidiEvent
func (v Value) AsMidi() (Midi, error) {
	if err := v.expect(TypeMidiEvent); err != nil {
		return Midi{}, err
	}
	return v.midi, nil
}

// AsDmx reads v as a DmxFrame, returning the universe and a copy of the channels
func (v Value) AsDmx() (int, []byte, error) {
	if err := v.expect(TypeDmxFrame); err != nil {
		return 0, nil, err
	}
	return v.universe, bytes.Clone(v.raw), nil
}

// Equal reports whether v and o have the same type and payload. Buffers are
// compared by content.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeNone, TypeTrigger:
		return true
	case TypeNumber:
		return v.num == o.num
	case TypeText:
		return v.str == o.str
	case TypeColour:
		return v.colour == o.colour
	case TypeVector:
		return v.vec == o.vec
	case TypeBitmap, TypeWaveform:
		return v.buf.Equal(o.buf)
	case TypeBinary:
		return bytes.Equal(v.raw, o.raw)
	case TypeMidiEvent:
		return v.midi == o.midi
	case TypeDmxFrame:
		return v.universe == o.universe && bytes.Equal(v.raw, o.raw)
	}
	return false
}

// Clone returns a copy of v sharing any bitmap or waveform buffer. The shared
// buffer's reference count is incremented.
func (v Value) Clone() Value {
	if v.buf != nil {
		v.buf.Retain()
	}
	return v
}

// DeepClone returns a copy of v with its own buffer
func (v Value) DeepClone() Value {
	if v.buf != nil {
		v.buf = v.buf.Copy()
	}
	v.raw = bytes.Clone(v.raw)
	return v
}

// Release drops v's reference to its buffer, if any
func (v Value) Release() {
	if v.buf != nil {
		v.buf.Release()
	}
}

// String renders v for logs and test failures
func (v Value) String() string {
	switch v.typ {
	case TypeNone:
		return "none"
	case TypeTrigger:
		return "trigger"
	case TypeNumber:
		return fmt.Sprintf("number(%g)", v.num)
	case TypeText:
		return fmt.Sprintf("text(%q)", v.str)
	case TypeColour:
		return fmt.Sprintf("colour(%g,%g,%g,%g)", v.colour.R, v.colour.G, v.colour.B, v.colour.A)
	case TypeVector:
		return fmt.Sprintf("vector(%g,%g,%g)", v.vec.X, v.vec.Y, v.vec.Z)
	case TypeBitmap, TypeWaveform:
		return fmt.Sprintf("%s(%dx%d)", v.typ, v.buf.Width(), v.buf.Height())
	case TypeBinary:
		return fmt.Sprintf("binary(%d bytes)", len(v.raw))
	case TypeMidiEvent:
		return fmt.Sprintf("midi(%02x %02x %02x)", v.midi.Status, v.midi.Data1, v.midi.Data2)
	case TypeDmxFrame:
		return fmt.Sprintf("dmx(u%d, %d ch)", v.universe, len(v.raw))
	}
	return v.typ.String()
}
