package inproc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ChuLiYu/mwcontrol/internal/transport"
)

// ErrNoReply is returned by DirectConn.Receive when the handler produced no
// reply for the messages sent so far.
var ErrNoReply = errors.New("inproc: no reply pending")

// Handler processes one message and returns the reply (empty for none) and
// whether it accepts further messages. worker.Proxy satisfies it.
type Handler interface {
	HandleMessage(ctx context.Context, in []byte) (out []byte, more bool, err error)
}

// DirectConn is a call-through connection: Send runs the handler in the
// caller's goroutine and queues its reply for the next Receive. No goroutine
// and no copy of the worker state exist besides the handler itself.
type DirectConn struct {
	name    string
	handler Handler

	mu      sync.Mutex
	replies [][]byte
	closed  bool
}

var (
	_ transport.Connection = (*DirectConn)(nil)
	_ transport.Poller     = (*DirectConn)(nil)
)

// Direct wraps handler in a call-through connection.
func Direct(name string, handler Handler) *DirectConn {
	return &DirectConn{name: fmt.Sprintf("direct/%s", name), handler: handler}
}

// Send delivers buf to the handler synchronously.
func (c *DirectConn) Send(ctx context.Context, buf []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrConnectionClosed
	}
	c.mu.Unlock()

	out, more, err := c.handler.HandleMessage(ctx, buf)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(out) > 0 {
		reply := make([]byte, len(out))
		copy(reply, out)
		c.replies = append(c.replies, reply)
	}
	if !more {
		c.closed = true
	}
	return nil
}

// Receive returns the oldest queued reply.
func (c *DirectConn) Receive(ctx context.Context, buf []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replies) == 0 {
		if c.closed {
			return nil, transport.ErrConnectionClosed
		}
		return nil, ErrNoReply
	}
	msg := c.replies[0]
	c.replies = c.replies[1:]
	buf = transport.Grow(buf, len(msg))
	copy(buf, msg)
	return buf, nil
}

// Ready reports whether a reply is queued.
func (c *DirectConn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.replies) > 0
}

func (c *DirectConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *DirectConn) Addr() string { return c.name }
