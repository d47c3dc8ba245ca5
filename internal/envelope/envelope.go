// ============================================================================
// mwcontrol Message Envelope
// ============================================================================
//
// Package: internal/envelope
// File: envelope.go
// Purpose: Versioned, length-prefixed container exchanged between master and
//          workers. Routing and timing fields live at fixed offsets so they can
//          be patched after the payload has already been serialized.
//
// Wire layout (little-endian):
//
//   offset  size  field
//   ------  ----  ------------------------------
//        0     4  startMagic (blob.StartMagic)
//        4     4  total length incl. end marker
//        8     2  version (1)
//       10     1  name length (2)
//       11     2  name "mw"
//       13     4  operation   int32
//       17     4  streamId    int32
//       21     4  workerId    int32
//       25     4  realTime    float32
//       29     4  systemTime  float32
//       33     4  userTime    float32
//       37     8  elapsedTime float64
//       45     …  payload
//      n-4     4  endMagic (blob.EndMagic)
//
// Lifecycle:
//   Sender:   Begin() → Payload().Put…() → [SetOperation/SetTimes] → Finish()
//   Receiver: Open()  → Payload().Get…() → Close()
//
//   Close() fails if the payload was not fully consumed, so a reader never
//   silently skips data the sender wrote.
//
// ============================================================================

package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ChuLiYu/mwcontrol/internal/blob"
	"github.com/ChuLiYu/mwcontrol/pkg/types"
)

const (
	// Name is the object name in the envelope start marker.
	Name = "mw"
	// Version is the envelope format version written by this package.
	Version int16 = 1

	offLength    = 4
	offVersion   = 8
	offNameLen   = 10
	offName      = 11
	offOperation = 13
	offStreamID  = 17
	offWorkerID  = 21
	offReal      = 25
	offSystem    = 29
	offUser      = 33
	offElapsed   = 37

	// HeaderSize is the number of bytes preceding the payload.
	HeaderSize = 45
	// TrailerSize is the size of the end marker.
	TrailerSize = 4
)

var (
	// ErrVersionMismatch is wrapped by VersionError.
	ErrVersionMismatch = errors.New("envelope: version mismatch")
	// ErrMalformed is returned for truncated buffers, bad markers or bad lengths.
	ErrMalformed = errors.New("envelope: malformed message")
	// ErrUnconsumedPayload is returned by Close when payload bytes are left.
	ErrUnconsumedPayload = errors.New("envelope: payload not fully consumed")
)

// VersionError reports an envelope written with an unsupported version.
type VersionError struct {
	Got  int16
	Want int16
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("envelope: version %d not supported (want %d)", e.Got, e.Want)
}

func (e *VersionError) Unwrap() error { return ErrVersionMismatch }

// Times is the timing block carried by every envelope, in seconds.
type Times struct {
	Real    float32
	System  float32
	User    float32
	Elapsed float64
}

// ============================================================================
// Writer
// ============================================================================

// Writer builds one outgoing envelope.
type Writer struct {
	payload  *blob.Writer
	finished bool
}

// Begin opens a new envelope and writes its header with a zeroed timing block.
func Begin(operation types.Operation, streamID, workerID int32) *Writer {
	return BeginInto(nil, operation, streamID, workerID)
}

// BeginInto is Begin reusing the capacity of buf.
func BeginInto(buf []byte, operation types.Operation, streamID, workerID int32) *Writer {
	w := blob.NewWriter(buf)
	w.PutUint32(blob.StartMagic)
	w.PutUint32(0) // length, patched by Finish
	w.Write(binary.LittleEndian.AppendUint16(nil, uint16(Version)))
	w.Write([]byte{byte(len(Name))})
	w.Write([]byte(Name))
	w.PutInt32(operation)
	w.PutInt32(streamID)
	w.PutInt32(workerID)
	w.PutFloat32(0)
	w.PutFloat32(0)
	w.PutFloat32(0)
	w.PutFloat64(0)
	return &Writer{payload: w}
}

// Payload returns the stream positioned after the header.
func (w *Writer) Payload() *blob.Writer { return w.payload }

// SetOperation overwrites the operation field in place.
func (w *Writer) SetOperation(op types.Operation) {
	binary.LittleEndian.PutUint32(w.payload.Bytes()[offOperation:], uint32(op))
}

// SetWorkerID overwrites the worker id field in place.
func (w *Writer) SetWorkerID(id int32) {
	binary.LittleEndian.PutUint32(w.payload.Bytes()[offWorkerID:], uint32(id))
}

// SetTimes overwrites the timing block in place.
func (w *Writer) SetTimes(t Times) {
	b := w.payload.Bytes()
	binary.LittleEndian.PutUint32(b[offReal:], math.Float32bits(t.Real))
	binary.LittleEndian.PutUint32(b[offSystem:], math.Float32bits(t.System))
	binary.LittleEndian.PutUint32(b[offUser:], math.Float32bits(t.User))
	binary.LittleEndian.PutUint64(b[offElapsed:], math.Float64bits(t.Elapsed))
}

// Finish seals the envelope and returns the encoded message.
// Calling Finish twice returns the same bytes.
func (w *Writer) Finish() []byte {
	if !w.finished {
		w.payload.PutUint32(blob.EndMagic)
		b := w.payload.Bytes()
		binary.LittleEndian.PutUint32(b[offLength:], uint32(len(b)))
		w.finished = true
	}
	return w.payload.Bytes()
}

// Message builds a complete envelope with an empty payload.
func Message(op types.Operation, streamID, workerID int32) []byte {
	return Begin(op, streamID, workerID).Finish()
}

// QuitMessage builds the termination sentinel.
func QuitMessage() []byte {
	return Message(types.OpQuit, 0, -1)
}

// ============================================================================
// Reader
// ============================================================================

// Reader exposes the fields of a received envelope.
type Reader struct {
	operation types.Operation
	streamID  int32
	workerID  int32
	times     Times
	payload   *blob.Reader
}

// Open validates buf and returns a Reader over it. The payload reader
// references buf directly.
func Open(buf []byte) (*Reader, error) {
	if len(buf) < HeaderSize+TrailerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(buf))
	}
	if binary.LittleEndian.Uint32(buf) != blob.StartMagic {
		return nil, fmt.Errorf("%w: bad start marker", ErrMalformed)
	}
	if n := binary.LittleEndian.Uint32(buf[offLength:]); int(n) != len(buf) {
		return nil, fmt.Errorf("%w: length field %d, buffer %d", ErrMalformed, n, len(buf))
	}
	if int(buf[offNameLen]) != len(Name) || string(buf[offName:offName+len(Name)]) != Name {
		return nil, fmt.Errorf("%w: not an %q envelope", ErrMalformed, Name)
	}
	if v := int16(binary.LittleEndian.Uint16(buf[offVersion:])); v != Version {
		return nil, &VersionError{Got: v, Want: Version}
	}
	end := len(buf) - TrailerSize
	if binary.LittleEndian.Uint32(buf[end:]) != blob.EndMagic {
		return nil, fmt.Errorf("%w: bad end marker", ErrMalformed)
	}

	return &Reader{
		operation: int32(binary.LittleEndian.Uint32(buf[offOperation:])),
		streamID:  int32(binary.LittleEndian.Uint32(buf[offStreamID:])),
		workerID:  int32(binary.LittleEndian.Uint32(buf[offWorkerID:])),
		times: Times{
			Real:    math.Float32frombits(binary.LittleEndian.Uint32(buf[offReal:])),
			System:  math.Float32frombits(binary.LittleEndian.Uint32(buf[offSystem:])),
			User:    math.Float32frombits(binary.LittleEndian.Uint32(buf[offUser:])),
			Elapsed: math.Float64frombits(binary.LittleEndian.Uint64(buf[offElapsed:])),
		},
		payload: blob.NewReader(buf[HeaderSize:end]),
	}, nil
}

func (r *Reader) Operation() types.Operation { return r.operation }
func (r *Reader) StreamID() int32            { return r.streamID }
func (r *Reader) WorkerID() int32            { return r.workerID }
func (r *Reader) Times() Times               { return r.times }

// Payload returns the stream over the application payload.
func (r *Reader) Payload() *blob.Reader { return r.payload }

// Close checks that the payload was decoded without error and fully consumed.
func (r *Reader) Close() error {
	if err := r.payload.Err(); err != nil {
		return fmt.Errorf("envelope: payload decode: %w", err)
	}
	if n := r.payload.Remaining(); n != 0 {
		return fmt.Errorf("%w: %d bytes left (operation %d)", ErrUnconsumedPayload, n, r.operation)
	}
	return nil
}
