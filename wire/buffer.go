// Package wire implements the canonical big-endian primitive encoding used by
// every block on disk (§4.1), plus the MD5 integrity digest (§4.2). All
// multibyte integers and IEEE-754 values are canonical big-endian regardless
// of the host's native layout — encode/decode do this by explicit byte
// shifts, so no host-endianness detection is needed anywhere in this
// package.
package wire

import (
	"bytes"
	"math"

	"github.com/pkg/errors"
)

// ErrShortBuffer is returned by any Next* accessor that would read past the
// end of the underlying slice.
var ErrShortBuffer = errors.New("wire: short buffer")

// MaxStringLen is the hard cap on a zero-terminated string field, including
// its terminator (§3).
const MaxStringLen = 1024

// Buffer is a read cursor over an in-memory byte slice, modeled on the
// teacher's ParseBuffer: every field decoder advances a single cursor rather
// than re-slicing. Unlike the teacher, Buffer never panics on underrun —
// every accessor threads an error back so C3 can turn a short read into a
// Critical outcome instead of crashing the process.
type Buffer struct {
	buf []byte
	pos int
	err error
}

// NewBuffer wraps an existing slice for reading. The slice is not copied.
func NewBuffer(b []byte) *Buffer { return &Buffer{buf: b} }

// Err returns the first error encountered by any Next* call, if any.
func (b *Buffer) Err() error { return b.err }

// Offset returns the current cursor position.
func (b *Buffer) Offset() int { return b.pos }

// SetOffset repositions the cursor, as the teacher's Leaf.Parse does to jump
// to each item's data after reading the fixed-size item table.
func (b *Buffer) SetOffset(pos int) { b.pos = pos }

// Unread returns the number of bytes remaining after the cursor.
func (b *Buffer) Unread() int {
	if b.pos >= len(b.buf) {
		return 0
	}
	return len(b.buf) - b.pos
}

// Next returns the next n bytes and advances the cursor. On underrun it
// returns a zero-length slice and latches ErrShortBuffer.
func (b *Buffer) Next(n int) []byte {
	if b.err != nil || n < 0 || b.pos+n > len(b.buf) {
		if b.err == nil {
			b.err = ErrShortBuffer
		}
		return nil
	}
	out := b.buf[b.pos : b.pos+n]
	b.pos += n
	return out
}

func (b *Buffer) NextUint8() uint8 {
	v := b.Next(1)
	if v == nil {
		return 0
	}
	return v[0]
}

func (b *Buffer) NextUint16() uint16 {
	v := b.Next(2)
	if v == nil {
		return 0
	}
	return uint16(v[0])<<8 | uint16(v[1])
}

func (b *Buffer) NextUint32() uint32 {
	v := b.Next(4)
	if v == nil {
		return 0
	}
	return uint32(v[0])<<24 | uint32(v[1])<<16 | uint32(v[2])<<8 | uint32(v[3])
}

func (b *Buffer) NextUint64() uint64 {
	v := b.Next(8)
	if v == nil {
		return 0
	}
	var u uint64
	for _, c := range v {
		u = u<<8 | uint64(c)
	}
	return u
}

func (b *Buffer) NextInt64() int64 { return int64(b.NextUint64()) }

func (b *Buffer) NextFloat32() float32 {
	return math.Float32frombits(b.NextUint32())
}

func (b *Buffer) NextFloat64() float64 {
	return math.Float64frombits(b.NextUint64())
}

// NextString reads a zero-terminated string, at most MaxStringLen bytes
// including the terminator (§3). The terminator is consumed but not
// included in the returned string.
func (b *Buffer) NextString() string {
	if b.err != nil {
		return ""
	}
	limit := b.pos + MaxStringLen
	if limit > len(b.buf) {
		limit = len(b.buf)
	}
	idx := bytes.IndexByte(b.buf[b.pos:limit], 0)
	if idx < 0 {
		b.err = errors.New("wire: unterminated string")
		return ""
	}
	s := string(b.buf[b.pos : b.pos+idx])
	b.pos += idx + 1
	return s
}

// WriteBuffer accumulates canonical big-endian bytes, mirroring Buffer on
// the write side.
type WriteBuffer struct {
	buf bytes.Buffer
}

func NewWriteBuffer() *WriteBuffer { return &WriteBuffer{} }

func (w *WriteBuffer) Bytes() []byte { return w.buf.Bytes() }
func (w *WriteBuffer) Len() int      { return w.buf.Len() }

func (w *WriteBuffer) PutBytes(b []byte) { w.buf.Write(b) }

func (w *WriteBuffer) PutUint8(v uint8) { w.buf.WriteByte(v) }

func (w *WriteBuffer) PutUint16(v uint16) {
	w.buf.Write([]byte{byte(v >> 8), byte(v)})
}

func (w *WriteBuffer) PutUint32(v uint32) {
	w.buf.Write([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

func (w *WriteBuffer) PutUint64(v uint64) {
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	w.buf.Write(b[:])
}

func (w *WriteBuffer) PutInt64(v int64) { w.PutUint64(uint64(v)) }

func (w *WriteBuffer) PutFloat32(v float32) { w.PutUint32(math.Float32bits(v)) }
func (w *WriteBuffer) PutFloat64(v float64) { w.PutUint64(math.Float64bits(v)) }

// PutString writes s NUL-terminated, truncating to MaxStringLen-1 bytes of
// payload so the terminator still fits within the §3 cap.
func (w *WriteBuffer) PutString(s string) {
	if len(s) > MaxStringLen-1 {
		s = s[:MaxStringLen-1]
	}
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
}
