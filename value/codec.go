package value

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vigraph/vg-server-sub000/errors"
)

// CompressThreshold is the payload size above which buffer samples are
// zstd-compressed on the wire.
const CompressThreshold = 4096

type wireValue struct {
	Type   uint8     `msgpack:"t"`
	Num    float64   `msgpack:"n,omitempty"`
	Str    string    `msgpack:"s,omitempty"`
	Comps  []float64 `msgpack:"c,omitempty"`
	Raw    []byte    `msgpack:"r,omitempty"`
	Width  int       `msgpack:"w,omitempty"`
	Height int       `msgpack:"h,omitempty"`
	Zstd   bool      `msgpack:"z,omitempty"`
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

// Encode serializes v with msgpack
func Encode(v Value) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "value", "Encode", "msgpack marshal")
	}
	return data, nil
}

// Decode deserializes a Value produced by Encode
func Decode(data []byte) (Value, error) {
	var v Value
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return None(), errors.WrapInvalid(err, "value", "Decode", "msgpack unmarshal")
	}
	return v, nil
}

// EncodeMsgpack implements msgpack.CustomEncoder so Values can be embedded in
// other msgpack messages.
func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	w := wireValue{Type: uint8(v.typ)}
	switch v.typ {
	case TypeNumber:
		w.Num = v.num
	case TypeText:
		w.Str = v.str
	case TypeColour:
		w.Comps = []float64{v.colour.R, v.colour.G, v.colour.B, v.colour.A}
	case TypeVector:
		w.Comps = []float64{v.vec.X, v.vec.Y, v.vec.Z}
	case TypeBinary:
		w.Raw = v.raw
	case TypeMidiEvent:
		w.Raw = []byte{v.midi.Status, v.midi.Data1, v.midi.Data2}
	case TypeDmxFrame:
		w.Num = float64(v.universe)
		w.Raw = v.raw
	case TypeBitmap, TypeWaveform:
		w.Width, w.Height = v.buf.width, v.buf.height
		raw := make([]byte, 4*len(v.buf.data))
		for i, f := range v.buf.data {
			binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(f))
		}
		if len(raw) > CompressThreshold {
			encoder, _, err := zstdCodecs()
			if err != nil {
				return errors.Wrap(err, "value", "EncodeMsgpack", "zstd init")
			}
			raw = encoder.EncodeAll(raw, nil)
			w.Zstd = true
		}
		w.Raw = raw
	}
	return enc.Encode(&w)
}

// DecodeMsgpack implements msgpack.CustomDecoder
func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	var w wireValue
	if err := dec.Decode(&w); err != nil {
		return err
	}

	t := Type(w.Type)
	switch t {
	case TypeNone:
		*v = None()
	case TypeTrigger:
		*v = Trigger()
	case TypeNumber:
		*v = Number(w.Num)
	case TypeText:
		*v = Text(w.Str)
	case TypeColour:
		if len(w.Comps) != 4 {
			return errors.Errorf(errors.ErrInvalidData, "colour needs 4 components, got %d", len(w.Comps))
		}
		*v = Colour(w.Comps[0], w.Comps[1], w.Comps[2], w.Comps[3])
	case TypeVector:
		if len(w.Comps) != 3 {
			return errors.Errorf(errors.ErrInvalidData, "vector needs 3 components, got %d", len(w.Comps))
		}
		*v = Vector(w.Comps[0], w.Comps[1], w.Comps[2])
	case TypeBinary:
		*v = Binary(w.Raw)
	case TypeMidiEvent:
		if len(w.Raw) != 3 {
			return errors.Errorf(errors.ErrInvalidData, "midi event needs 3 bytes, got %d", len(w.Raw))
		}
		*v = MidiEvent(w.Raw[0], w.Raw[1], w.Raw[2])
	case TypeDmxFrame:
		*v = DmxFrame(int(w.Num), w.Raw)
	case TypeBitmap, TypeWaveform:
		raw := w.Raw
		if w.Zstd {
			_, decoder, err := zstdCodecs()
			if err != nil {
				return errors.Wrap(err, "value", "DecodeMsgpack", "zstd init")
			}
			raw, err = decoder.DecodeAll(raw, nil)
			if err != nil {
				return errors.Wrap(err, "value", "DecodeMsgpack", "zstd decode")
			}
		}
		if len(raw)%4 != 0 {
			return errors.Errorf(errors.ErrInvalidData, "sample payload of %d bytes", len(raw))
		}
		data := make([]float32, len(raw)/4)
		for i := range data {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		buf := NewBuffer(w.Width, w.Height, data)
		if t == TypeBitmap {
			*v = Bitmap(buf)
		} else {
			*v = Waveform(buf)
		}
	default:
		return errors.Errorf(errors.ErrInvalidData, "unknown value type tag %d", w.Type)
	}
	return nil
}
