package traci

import "fmt"

// Position is a 2D or 3D network position. Z is zero for 2D values.
type Position struct {
	X, Y, Z float64
}

// Color is an RGBA color as sent by the engine.
type Color struct {
	R, G, B, A uint8
}

// Compound is a decoded compound value, one entry per item.
type Compound []any

// ReadValue decodes one typed value. Integers decode to int32, unsigned
// bytes to uint8, signed bytes to int8.
func (r *Reader) ReadValue() any {
	t := r.ReadUByte()
	if r.err != nil {
		return nil
	}
	switch t {
	case TypePosition2D:
		return Position{X: r.ReadDouble(), Y: r.ReadDouble()}
	case TypePosition3D:
		return Position{X: r.ReadDouble(), Y: r.ReadDouble(), Z: r.ReadDouble()}
	case TypeUByte:
		return r.ReadUByte()
	case TypeByte:
		return r.ReadSByte()
	case TypeInteger:
		return r.ReadInt()
	case TypeDouble:
		return r.ReadDouble()
	case TypeString:
		return r.ReadString()
	case TypeStringList:
		return r.ReadStringList()
	case TypeDoubleList:
		n := int(r.ReadInt())
		if n < 0 || n*8 > r.Remaining() {
			r.fail(fmt.Errorf("%w: double list of %d entries", ErrMalformed, n))
			return nil
		}
		out := make([]float64, n)
		for i := range out {
			out[i] = r.ReadDouble()
		}
		return out
	case TypeColor:
		return Color{R: r.ReadUByte(), G: r.ReadUByte(), B: r.ReadUByte(), A: r.ReadUByte()}
	case TypeCompound:
		n := int(r.ReadInt())
		if n < 0 || n > r.Remaining() {
			r.fail(fmt.Errorf("%w: compound of %d items", ErrMalformed, n))
			return nil
		}
		out := make(Compound, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			out = append(out, r.ReadValue())
		}
		return out
	default:
		r.fail(fmt.Errorf("%w: unknown type 0x%02x", ErrMalformed, t))
		return nil
	}
}

// AsInt converts a decoded integer-like value.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int32:
		return int(n), true
	case uint8:
		return int(n), true
	case int8:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// AsFloat converts a decoded numeric value.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int32:
		return float64(n), true
	}
	return 0, false
}
