// ============================================================================
// Blob Stream - Binary Object Codec
// ============================================================================
//
// Package: internal/blob
// File: blob.go
// Purpose: Little-endian primitive codec shared by the message envelope
//          payloads and the step serializer.
//
// Object framing:
//   Every serialized object is bracketed by a start and an end marker:
//
//   ┌────────────┬─────────┬─────────┬──────────┬────────┐
//   │ startMagic │ version │ nameLen │ name ... │ fields │ ... endMagic
//   │  uint32    │  int16  │  uint8  │  bytes   │        │     uint32
//   └────────────┴─────────┴─────────┴──────────┴────────┘
//
//   The reader checks the magic and the name, and hands the version back to
//   the caller, which decides whether it can decode that version.
//
// Primitive encoding:
//   - Fixed-size numbers: little-endian
//   - Strings / byte slices: uint32 length + data
//   - Slices: uint32 count + elements
//
// ============================================================================

package blob

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// StartMagic opens every framed object.
	StartMagic uint32 = 0xbebebebe
	// EndMagic closes every framed object.
	EndMagic uint32 = 0xbfbfbfbf
)

var (
	// ErrBadMagic is returned when a start or end marker is missing.
	ErrBadMagic = errors.New("blob: bad object marker")
	// ErrShortBuffer is returned when the stream ends in the middle of a value.
	ErrShortBuffer = errors.New("blob: unexpected end of data")
	// ErrNameTooLong is returned when an object name does not fit in one byte.
	ErrNameTooLong = errors.New("blob: object name longer than 255 bytes")
)

// NameMismatchError reports a start marker carrying an unexpected object name.
type NameMismatchError struct {
	Expected string
	Actual   string
}

func (e *NameMismatchError) Error() string {
	return fmt.Sprintf("blob: expected object %q, found %q", e.Expected, e.Actual)
}

// ============================================================================
// Writer
// ============================================================================

// Writer appends encoded values to an in-memory buffer.
type Writer struct {
	buf   []byte
	depth int
}

// NewWriter creates a Writer. The buffer capacity is reused when non-nil.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf[:0]}
}

// Bytes returns the encoded data.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Depth returns the number of objects started but not yet ended.
func (w *Writer) Depth() int { return w.depth }

// Write implements io.Writer, appending raw bytes without a length prefix.
func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// PutStart opens a named, versioned object.
// Object names longer than 255 bytes are a programming error and panic.
func (w *Writer) PutStart(name string, version int16) {
	if len(name) > math.MaxUint8 {
		panic(ErrNameTooLong)
	}
	w.PutUint32(StartMagic)
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(version))
	w.buf = append(w.buf, byte(len(name)))
	w.buf = append(w.buf, name...)
	w.depth++
}

// PutEnd closes the innermost object.
func (w *Writer) PutEnd() {
	w.PutUint32(EndMagic)
	w.depth--
}

func (w *Writer) PutUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) PutInt32(v int32) { w.PutUint32(uint32(v)) }

func (w *Writer) PutInt64(v int64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v))
}

func (w *Writer) PutFloat32(v float32) { w.PutUint32(math.Float32bits(v)) }

func (w *Writer) PutFloat64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *Writer) PutBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) PutBytes(v []byte) {
	w.PutUint32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

func (w *Writer) PutString(v string) {
	w.PutUint32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

func (w *Writer) PutStrings(v []string) {
	w.PutUint32(uint32(len(v)))
	for _, s := range v {
		w.PutString(s)
	}
}

func (w *Writer) PutInt32s(v []int32) {
	w.PutUint32(uint32(len(v)))
	for _, x := range v {
		w.PutInt32(x)
	}
}

func (w *Writer) PutFloat64s(v []float64) {
	w.PutUint32(uint32(len(v)))
	for _, x := range v {
		w.PutFloat64(x)
	}
}

// ============================================================================
// Reader
// ============================================================================

// Reader decodes values from a byte slice. The first error sticks: every
// later Get call returns the zero value and Err reports the original error.
type Reader struct {
	data []byte
	pos  int
	err  error
}

// NewReader creates a Reader over data. The slice is not copied.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first decoding error, if any.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = ErrShortBuffer
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

// GetStart reads a start marker, checks the object name and returns the version.
func (r *Reader) GetStart(name string) (int16, error) {
	if magic := r.GetUint32(); r.err == nil && magic != StartMagic {
		r.err = fmt.Errorf("%w: start of %q", ErrBadMagic, name)
	}
	b := r.take(2)
	if r.err != nil {
		return 0, r.err
	}
	version := int16(binary.LittleEndian.Uint16(b))
	n := r.take(1)
	if r.err != nil {
		return 0, r.err
	}
	actual := string(r.take(int(n[0])))
	if r.err != nil {
		return 0, r.err
	}
	if actual != name {
		r.err = &NameMismatchError{Expected: name, Actual: actual}
		return 0, r.err
	}
	return version, nil
}

// PeekName returns the name of the object starting at the current position
// without consuming anything.
func (r *Reader) PeekName() (string, error) {
	if r.err != nil {
		return "", r.err
	}
	const fixed = 4 + 2 + 1
	if r.pos+fixed > len(r.data) {
		return "", ErrShortBuffer
	}
	if binary.LittleEndian.Uint32(r.data[r.pos:]) != StartMagic {
		return "", ErrBadMagic
	}
	n := int(r.data[r.pos+6])
	if r.pos+fixed+n > len(r.data) {
		return "", ErrShortBuffer
	}
	return string(r.data[r.pos+fixed : r.pos+fixed+n]), nil
}

// GetEnd reads an end marker.
func (r *Reader) GetEnd() error {
	if magic := r.GetUint32(); r.err == nil && magic != EndMagic {
		r.err = fmt.Errorf("%w: end of object", ErrBadMagic)
	}
	return r.err
}

func (r *Reader) GetUint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) GetInt32() int32 { return int32(r.GetUint32()) }

func (r *Reader) GetInt64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

func (r *Reader) GetFloat32() float32 { return math.Float32frombits(r.GetUint32()) }

func (r *Reader) GetFloat64() float64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func (r *Reader) GetBool() bool {
	b := r.take(1)
	return b != nil && b[0] != 0
}

// GetBytes returns a copy of a length-prefixed byte slice.
func (r *Reader) GetBytes() []byte {
	n := r.GetUint32()
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r *Reader) GetString() string {
	n := r.GetUint32()
	return string(r.take(int(n)))
}

func (r *Reader) GetStrings() []string {
	n := r.count(4)
	if n == 0 {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = r.GetString()
	}
	return out
}

func (r *Reader) GetInt32s() []int32 {
	n := r.count(4)
	if n == 0 {
		return nil
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = r.GetInt32()
	}
	return out
}

func (r *Reader) GetFloat64s() []float64 {
	n := r.count(8)
	if n == 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = r.GetFloat64()
	}
	return out
}

// count reads a slice length and rejects counts that cannot fit in the
// remaining data, so a corrupt prefix never triggers a huge allocation.
func (r *Reader) count(minElem int) int {
	n := int(r.GetUint32())
	if r.err != nil {
		return 0
	}
	if n*minElem > r.Remaining() {
		r.err = ErrShortBuffer
		return 0
	}
	return n
}
