package grpcconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/ChuLiYu/mwcontrol/internal/transport"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
)

// ErrListenerClosed is returned by Accept after Close.
var ErrListenerClosed = errors.New("grpcconn: listener closed")

// Listener is the master side of the transport: a gRPC server that turns
// every attaching worker into a Conn.
type Listener struct {
	server   *grpc.Server
	lis      net.Listener
	opts     Options
	accepted chan *Conn
	closed   chan struct{}
	once     sync.Once
	serveErr chan error
	logger   *slog.Logger

	mu       sync.Mutex
	live     map[*Conn]struct{} // conns whose Attach handler is still running
	shutdown bool
}

// Listen starts serving on addr (e.g. ":50051", "127.0.0.1:0").
func Listen(addr string, opts Options) (*Listener, error) {
	opts = opts.withDefaults()
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	l := &Listener{
		server: grpc.NewServer(
			grpc.MaxRecvMsgSize(opts.MaxMessageBytes),
			grpc.MaxSendMsgSize(opts.MaxMessageBytes),
		),
		lis:      lis,
		opts:     opts,
		accepted: make(chan *Conn, 64),
		closed:   make(chan struct{}),
		serveErr: make(chan error, 1),
		live:     make(map[*Conn]struct{}),
		logger:   slog.With("component", "grpcconn", "addr", lis.Addr().String()),
	}
	l.server.RegisterService(&serviceDesc, l)

	go func() {
		l.serveErr <- l.server.Serve(lis)
	}()
	l.logger.Info("Listening for workers")
	return l, nil
}

// Addr returns the bound address, useful when listening on port 0.
func (l *Listener) Addr() string { return l.lis.Addr().String() }

// Attach implements exchangeServer. It blocks for the lifetime of the
// worker's connection.
func (l *Listener) Attach(stream grpc.ServerStream) error {
	addr := "unknown"
	if p, ok := peer.FromContext(stream.Context()); ok {
		addr = p.Addr.String()
	}

	released := make(chan struct{})
	var c *Conn
	c = newConn(addr, stream, l.opts.QueueDepth, func() {
		l.forget(c)
		close(released)
	})
	if !l.track(c) {
		c.Close()
		return ErrListenerClosed
	}

	select {
	case l.accepted <- c:
	case <-l.closed:
		c.Close()
		return ErrListenerClosed
	case <-stream.Context().Done():
		c.Close()
		return stream.Context().Err()
	}

	select {
	case <-released:
		return nil
	case <-stream.Context().Done():
		c.Close()
		return nil
	}
}

// Accept waits until n workers have attached and returns them as a set in
// attach order.
func (l *Listener) Accept(ctx context.Context, n int) (*transport.ConnectionSet, error) {
	set := transport.NewConnectionSet("workers")
	for set.Size() < n {
		select {
		case c := <-l.accepted:
			seq := set.Add(c)
			l.logger.Info("Worker attached", "seq", seq, "peer", c.Addr())
		case err := <-l.serveErr:
			set.Close()
			return nil, fmt.Errorf("grpc server stopped: %w", err)
		case <-l.closed:
			set.Close()
			return nil, ErrListenerClosed
		case <-ctx.Done():
			set.Close()
			return nil, fmt.Errorf("accepted %d of %d workers: %w", set.Size(), n, ctx.Err())
		}
	}
	return set, nil
}

// Close stops the server. Every open stream is ended first so that
// messages already sent are flushed before the transports go away.
func (l *Listener) Close() error {
	l.once.Do(func() {
		close(l.closed)

		l.mu.Lock()
		l.shutdown = true
		live := make([]*Conn, 0, len(l.live))
		for c := range l.live {
			live = append(live, c)
		}
		l.mu.Unlock()

		for _, c := range live {
			c.Close()
		}
		l.server.GracefulStop()
	})
	return nil
}

func (l *Listener) track(c *Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shutdown {
		return false
	}
	l.live[c] = struct{}{}
	return true
}

func (l *Listener) forget(c *Conn) {
	l.mu.Lock()
	delete(l.live, c)
	l.mu.Unlock()
}
