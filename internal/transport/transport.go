// ============================================================================
// mwcontrol Transport - Point-to-point Byte Channels
// ============================================================================
//
// Package: internal/transport
// File: transport.go
// Purpose: Defines the Connection abstraction shared by every transport and
//          the errors transports report.
//
// Variants:
//   - inproc.Pipe:    channel-backed pair, one goroutine per worker
//   - inproc.Direct:  call-through, the worker handler runs inside Send
//   - grpcconn:       gRPC bidirectional stream over TCP
//
// Ownership:
//   A worker holds exactly one Connection back to the master; the master holds
//   exactly one Connection per worker, grouped in a ConnectionSet.
//
// Failure model:
//   Connect and accept failures are returned to the caller and are fatal to
//   the process. Nothing here retries. A receive on a closed peer returns
//   ErrConnectionClosed, which workers treat as a shutdown request.
//
// ============================================================================

package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed is returned when the peer (or the local side) closed.
	ErrConnectionClosed = errors.New("transport: connection closed")
	// ErrIndexOutOfRange is wrapped by IndexOutOfRangeError.
	ErrIndexOutOfRange = errors.New("transport: index out of range")
)

// NoneReady is returned by ConnectionSet.ReadyConnection when no connection
// has data available.
const NoneReady = -1

// Connection is a direction-agnostic channel of framed byte messages.
type Connection interface {
	// Send hands the whole buffer to the transport. The caller may reuse buf
	// once Send returns.
	Send(ctx context.Context, buf []byte) error

	// Receive blocks until one complete message is available. The capacity of
	// buf is reused when large enough; the returned slice holds the message.
	Receive(ctx context.Context, buf []byte) ([]byte, error)

	// Close releases the connection. Further calls return ErrConnectionClosed.
	Close() error

	// Addr identifies the peer for logging.
	Addr() string
}

// Poller is implemented by connections that can tell, without blocking,
// whether a message is waiting.
type Poller interface {
	Ready() bool
}

// IndexOutOfRangeError reports a sequence number outside [0, Size).
type IndexOutOfRangeError struct {
	Index int
	Size  int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("transport: index %d out of range [0,%d)", e.Index, e.Size)
}

func (e *IndexOutOfRangeError) Unwrap() error { return ErrIndexOutOfRange }

// ConnError names the connection an I/O error happened on.
type ConnError struct {
	Set   string
	Index int
	Op    string
	Err   error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("transport: %s %s[%d]: %v", e.Op, e.Set, e.Index, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// Grow returns buf resized to n bytes, reallocating only when needed.
func Grow(buf []byte, n int) []byte {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]byte, n)
}
