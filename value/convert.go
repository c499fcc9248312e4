package value

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/vigraph/vg-server-sub000/errors"
)

// FromAny converts a decoded YAML/JSON literal into a Value of type t.
// Property maps in graph descriptions arrive in this form.
func FromAny(t Type, x any) (Value, error) {
	mismatch := func() (Value, error) {
		return None(), errors.Errorf(errors.ErrTypeMismatch, "cannot use %T as %s", x, t)
	}

	switch t {
	case TypeNumber:
		f, ok := toFloat(x)
		if !ok {
			return mismatch()
		}
		return Number(f), nil

	case TypeTrigger:
		switch v := x.(type) {
		case nil:
			return Trigger(), nil
		case bool:
			if v {
				return Trigger(), nil
			}
			return None(), nil
		}
		return mismatch()

	case TypeText:
		s, ok := x.(string)
		if !ok {
			return mismatch()
		}
		return Text(s), nil

	case TypeColour:
		switch v := x.(type) {
		case string:
			return parseHexColour(v)
		case map[string]any:
			c := RGBA{A: 1}
			for key, dst := range map[string]*float64{"r": &c.R, "g": &c.G, "b": &c.B, "a": &c.A} {
				if raw, ok := v[key]; ok {
					f, ok := toFloat(raw)
					if !ok {
						return mismatch()
					}
					*dst = f
				}
			}
			return Colour(c.R, c.G, c.B, c.A), nil
		case []any:
			fs, ok := toFloats(v)
			if !ok || len(fs) < 3 || len(fs) > 4 {
				return mismatch()
			}
			if len(fs) == 3 {
				fs = append(fs, 1)
			}
			return Colour(fs[0], fs[1], fs[2], fs[3]), nil
		}
		return mismatch()

	case TypeVector:
		switch v := x.(type) {
		case map[string]any:
			var vec Vec3
			for key, dst := range map[string]*float64{"x": &vec.X, "y": &vec.Y, "z": &vec.Z} {
				if raw, ok := v[key]; ok {
					f, ok := toFloat(raw)
					if !ok {
						return mismatch()
					}
					*dst = f
				}
			}
			return Vector(vec.X, vec.Y, vec.Z), nil
		case []any:
			fs, ok := toFloats(v)
			if !ok || len(fs) < 2 || len(fs) > 3 {
				return mismatch()
			}
			if len(fs) == 2 {
				fs = append(fs, 0)
			}
			return Vector(fs[0], fs[1], fs[2]), nil
		}
		return mismatch()

	case TypeBinary:
		switch v := x.(type) {
		case []byte:
			return Binary(v), nil
		case string:
			b, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return None(), errors.Errorf(errors.ErrTypeMismatch, "binary literal is not base64: %v", err)
			}
			return Binary(b), nil
		}
		return mismatch()

	case TypeMidiEvent:
		m, ok := x.(map[string]any)
		if !ok {
			return mismatch()
		}
		var fields [3]byte
		for i, key := range []string{"status", "data1", "data2"} {
			f, _ := toFloat(m[key])
			fields[i] = byte(f)
		}
		return MidiEvent(fields[0], fields[1], fields[2]), nil

	case TypeDmxFrame:
		m, ok := x.(map[string]any)
		if !ok {
			return mismatch()
		}
		universe, _ := toFloat(m["universe"])
		raw, _ := m["channels"].([]any)
		fs, ok := toFloats(raw)
		if !ok {
			return mismatch()
		}
		channels := make([]byte, len(fs))
		for i, f := range fs {
			channels[i] = byte(f)
		}
		return DmxFrame(int(universe), channels), nil

	case TypeBitmap, TypeWaveform:
		m, ok := x.(map[string]any)
		if !ok {
			return mismatch()
		}
		w, _ := toFloat(m["width"])
		h, _ := toFloat(m["height"])
		raw, _ := m["data"].([]any)
		fs, ok := toFloats(raw)
		if !ok {
			return mismatch()
		}
		data := make([]float32, len(fs))
		for i, f := range fs {
			data[i] = float32(f)
		}
		buf := NewBuffer(int(w), int(h), data)
		if t == TypeBitmap {
			return Bitmap(buf), nil
		}
		return Waveform(buf), nil
	}
	return mismatch()
}

// Interface converts v back into a plain literal, the inverse of FromAny
func (v Value) Interface() any {
	switch v.typ {
	case TypeNumber:
		return v.num
	case TypeTrigger:
		return true
	case TypeText:
		return v.str
	case TypeColour:
		return map[string]any{"r": v.colour.R, "g": v.colour.G, "b": v.colour.B, "a": v.colour.A}
	case TypeVector:
		return map[string]any{"x": v.vec.X, "y": v.vec.Y, "z": v.vec.Z}
	case TypeBinary:
		return base64.StdEncoding.EncodeToString(v.raw)
	case TypeMidiEvent:
		return map[string]any{"status": float64(v.midi.Status), "data1": float64(v.midi.Data1), "data2": float64(v.midi.Data2)}
	case TypeDmxFrame:
		channels := make([]any, len(v.raw))
		for i, c := range v.raw {
			channels[i] = float64(c)
		}
		return map[string]any{"universe": float64(v.universe), "channels": channels}
	case TypeBitmap, TypeWaveform:
		data := make([]any, len(v.buf.data))
		for i, f := range v.buf.data {
			data[i] = float64(f)
		}
		return map[string]any{"width": float64(v.buf.width), "height": float64(v.buf.height), "data": data}
	}
	return nil
}

func parseHexColour(s string) (Value, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 && len(hex) != 8 {
		return None(), errors.Errorf(errors.ErrTypeMismatch, "bad colour literal %q", s)
	}
	var comps [4]float64
	comps[3] = 1
	for i := 0; i*2 < len(hex); i++ {
		n, err := strconv.ParseUint(hex[i*2:i*2+2], 16, 8)
		if err != nil {
			return None(), errors.Errorf(errors.ErrTypeMismatch, "bad colour literal %q", s)
		}
		comps[i] = float64(n) / 255
	}
	return Colour(comps[0], comps[1], comps[2], comps[3]), nil
}

func toFloat(x any) (float64, bool) {
	switch v := x.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case uint8:
		return float64(v), true
	case fmt.Stringer:
		f, err := strconv.ParseFloat(v.String(), 64)
		return f, err == nil
	}
	return 0, false
}

func toFloats(xs []any) ([]float64, bool) {
	out := make([]float64, len(xs))
	for i, x := range xs {
		f, ok := toFloat(x)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}
