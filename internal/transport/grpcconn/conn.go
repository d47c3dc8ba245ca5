package grpcconn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ChuLiYu/mwcontrol/internal/transport"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// msgStream is the subset of grpc.ServerStream / grpc.ClientStream in use.
type msgStream interface {
	SendMsg(m interface{}) error
	RecvMsg(m interface{}) error
}

// Conn is one end of an Attach stream. A receive goroutine drains the stream
// into a buffered queue, which is what makes Ready non-blocking.
type Conn struct {
	addr   string
	stream msgStream

	sendMu sync.Mutex
	in     chan []byte
	// recvErr is written before in is closed and read only after.
	recvErr error

	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
}

var (
	_ transport.Connection = (*Conn)(nil)
	_ transport.Poller     = (*Conn)(nil)
)

func newConn(addr string, stream msgStream, depth int, onClose func()) *Conn {
	c := &Conn{
		addr:    addr,
		stream:  stream,
		in:      make(chan []byte, depth),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	go c.recvLoop()
	return c
}

func (c *Conn) recvLoop() {
	defer close(c.in)
	for {
		m := new(wrapperspb.BytesValue)
		if err := c.stream.RecvMsg(m); err != nil {
			c.recvErr = mapErr(err)
			return
		}
		select {
		case c.in <- m.GetValue():
		case <-c.done:
			c.recvErr = transport.ErrConnectionClosed
			return
		}
	}
}

// Send writes one envelope to the stream.
//
// gRPC does not allow a message to change after SendMsg, while callers
// reuse buf for the next envelope, so the frame carries its own copy.
func (c *Conn) Send(ctx context.Context, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	select {
	case <-c.done:
		return transport.ErrConnectionClosed
	default:
	}
	if err := c.stream.SendMsg(&wrapperspb.BytesValue{Value: bytes.Clone(buf)}); err != nil {
		return mapErr(err)
	}
	return nil
}

// Receive returns the next envelope from the queue.
func (c *Conn) Receive(ctx context.Context, buf []byte) ([]byte, error) {
	select {
	case msg, ok := <-c.in:
		return c.deliver(buf, msg, ok)
	default:
	}
	select {
	case msg, ok := <-c.in:
		return c.deliver(buf, msg, ok)
	case <-c.done:
		return nil, transport.ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) deliver(buf, msg []byte, ok bool) ([]byte, error) {
	if !ok {
		return nil, c.recvErr
	}
	buf = transport.Grow(buf, len(msg))
	copy(buf, msg)
	return buf, nil
}

// Ready reports whether an envelope is queued.
func (c *Conn) Ready() bool { return len(c.in) > 0 }

// Close ends the stream. On the worker side the underlying client
// connection is closed too.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

func (c *Conn) Addr() string { return c.addr }

// mapErr folds the ways a stream reports an orderly shutdown into
// transport.ErrConnectionClosed.
func mapErr(err error) error {
	if errors.Is(err, io.EOF) {
		return transport.ErrConnectionClosed
	}
	switch status.Code(err) {
	case codes.Canceled, codes.Unavailable:
		return fmt.Errorf("%w: %v", transport.ErrConnectionClosed, err)
	}
	return err
}

// ============================================================================
// Worker side
// ============================================================================

// Dial connects to the master at addr and opens the Attach stream.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(opts.MaxMessageBytes),
			grpc.MaxCallSendMsgSize(opts.MaxMessageBytes),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial master %s: %w", addr, err)
	}

	// The stream outlives ctx; ctx only bounds the attach itself.
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	stream, err := cc.NewStream(streamCtx, &serviceDesc.Streams[0], attachFullMethod,
		grpc.WaitForReady(opts.WaitForReady))
	if !stop() {
		err = errors.Join(err, ctx.Err())
	}
	if err != nil {
		cancel()
		cc.Close()
		return nil, fmt.Errorf("failed to attach to master %s: %w", addr, err)
	}

	onClose := func() {
		_ = stream.CloseSend()
		cancel()
		_ = cc.Close()
	}
	return newConn(addr, stream, opts.QueueDepth, onClose), nil
}
