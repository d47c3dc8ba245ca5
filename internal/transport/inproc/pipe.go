// Package inproc provides transports for master and workers living in the
// same process.
package inproc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ChuLiYu/mwcontrol/internal/transport"
)

var pipeSeq atomic.Int64

// pipeShared is the state both ends of a pipe observe.
type pipeShared struct {
	done chan struct{}
	once sync.Once
}

func (p *pipeShared) close() {
	p.once.Do(func() { close(p.done) })
}

// PipeConn is one end of an in-process pipe. Messages are copied on Send so
// the sender may reuse its buffer.
type PipeConn struct {
	name   string
	in     <-chan []byte
	out    chan<- []byte
	shared *pipeShared
}

var (
	_ transport.Connection = (*PipeConn)(nil)
	_ transport.Poller     = (*PipeConn)(nil)
)

// Pipe creates a connected pair. depth is the number of messages each
// direction buffers before Send blocks; values below 1 mean 1.
func Pipe(depth int) (master, worker *PipeConn) {
	if depth < 1 {
		depth = 1
	}
	id := pipeSeq.Add(1)
	toWorker := make(chan []byte, depth)
	toMaster := make(chan []byte, depth)
	shared := &pipeShared{done: make(chan struct{})}

	master = &PipeConn{name: fmt.Sprintf("pipe-%d/master", id), in: toMaster, out: toWorker, shared: shared}
	worker = &PipeConn{name: fmt.Sprintf("pipe-%d/worker", id), in: toWorker, out: toMaster, shared: shared}
	return master, worker
}

// Send copies buf into the peer's queue.
func (c *PipeConn) Send(ctx context.Context, buf []byte) error {
	msg := make([]byte, len(buf))
	copy(msg, buf)

	select {
	case <-c.shared.done:
		return transport.ErrConnectionClosed
	default:
	}
	select {
	case c.out <- msg:
		return nil
	case <-c.shared.done:
		return transport.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits for the next message. Messages queued before Close are still
// delivered.
func (c *PipeConn) Receive(ctx context.Context, buf []byte) ([]byte, error) {
	select {
	case msg := <-c.in:
		return c.fill(buf, msg), nil
	default:
	}
	select {
	case msg := <-c.in:
		return c.fill(buf, msg), nil
	case <-c.shared.done:
		select {
		case msg := <-c.in:
			return c.fill(buf, msg), nil
		default:
			return nil, transport.ErrConnectionClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *PipeConn) fill(buf, msg []byte) []byte {
	buf = transport.Grow(buf, len(msg))
	copy(buf, msg)
	return buf
}

// Ready reports whether a message is queued.
func (c *PipeConn) Ready() bool { return len(c.in) > 0 }

// Close shuts both directions of the pipe.
func (c *PipeConn) Close() error {
	c.shared.close()
	return nil
}

func (c *PipeConn) Addr() string { return c.name }
