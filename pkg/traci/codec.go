package traci

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Writer accumulates a big-endian TraCI payload.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// Bytes returns the encoded payload.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the payload length in bytes.
func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) PutUByte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *Writer) PutInt(v int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) PutDouble(v float64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *Writer) PutString(s string) {
	w.PutInt(int32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *Writer) PutStringList(l []string) {
	w.PutInt(int32(len(l)))
	for _, s := range l {
		w.PutString(s)
	}
}

func (w *Writer) PutRaw(b []byte) {
	w.buf = append(w.buf, b...)
}

// Typed variants prefix the value with its type byte.

func (w *Writer) PutTypedUByte(b byte) {
	w.PutUByte(TypeUByte)
	w.PutUByte(b)
}

func (w *Writer) PutTypedInt(v int32) {
	w.PutUByte(TypeInteger)
	w.PutInt(v)
}

func (w *Writer) PutTypedDouble(v float64) {
	w.PutUByte(TypeDouble)
	w.PutDouble(v)
}

func (w *Writer) PutTypedString(s string) {
	w.PutUByte(TypeString)
	w.PutString(s)
}

func (w *Writer) PutTypedStringList(l []string) {
	w.PutUByte(TypeStringList)
	w.PutStringList(l)
}

func (w *Writer) PutTypedColor(c Color) {
	w.PutUByte(TypeColor)
	w.buf = append(w.buf, c.R, c.G, c.B, c.A)
}

// PutCompound writes a compound header announcing n items.
func (w *Writer) PutCompound(n int) {
	w.PutUByte(TypeCompound)
	w.PutInt(int32(n))
}

// Reader decodes a big-endian TraCI payload. Errors are sticky: after the
// first failure every read returns a zero value and Err reports the cause.
type Reader struct {
	data []byte
	pos  int
	err  error
}

// NewReader wraps data for decoding.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first decoding error.
func (r *Reader) Err() error {
	return r.err
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.fail(fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, r.pos, r.Remaining()))
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

// Skip discards n bytes.
func (r *Reader) Skip(n int) {
	r.take(n)
}

func (r *Reader) ReadUByte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) ReadSByte() int8 {
	return int8(r.ReadUByte())
}

func (r *Reader) ReadInt() int32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (r *Reader) ReadDouble() float64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func (r *Reader) ReadString() string {
	n := r.ReadInt()
	b := r.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

func (r *Reader) ReadStringList() []string {
	n := int(r.ReadInt())
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.Remaining() {
		r.fail(fmt.Errorf("%w: string list of %d entries", ErrMalformed, n))
		return nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.ReadString())
	}
	return out
}

// expect consumes a type byte and fails if it differs from want.
func (r *Reader) expect(want byte) bool {
	got := r.ReadUByte()
	if r.err != nil {
		return false
	}
	if got != want {
		r.fail(fmt.Errorf("%w: expected type 0x%02x, got 0x%02x", ErrMalformed, want, got))
		return false
	}
	return true
}

func (r *Reader) ReadTypedInt() int32 {
	if !r.expect(TypeInteger) {
		return 0
	}
	return r.ReadInt()
}

func (r *Reader) ReadTypedDouble() float64 {
	if !r.expect(TypeDouble) {
		return 0
	}
	return r.ReadDouble()
}

func (r *Reader) ReadTypedString() string {
	if !r.expect(TypeString) {
		return ""
	}
	return r.ReadString()
}

func (r *Reader) ReadTypedStringList() []string {
	if !r.expect(TypeStringList) {
		return nil
	}
	return r.ReadStringList()
}

// ReadCompoundHeader consumes a compound type byte and its item count.
func (r *Reader) ReadCompoundHeader() int {
	if !r.expect(TypeCompound) {
		return 0
	}
	return int(r.ReadInt())
}
