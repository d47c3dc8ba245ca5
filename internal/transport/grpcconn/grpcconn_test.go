package grpcconn

// ============================================================================
// gRPC Transport Test File
// Purpose: Verify attach, envelope exchange, polling and shutdown over a
//          real loopback socket
// ============================================================================

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ChuLiYu/mwcontrol/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func startListener(t *testing.T) *Listener {
	t.Helper()
	l, err := Listen("127.0.0.1:0", Options{})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func dial(t *testing.T, addr string) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, addr, Options{WaitForReady: true})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestAttachAndExchange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	l := startListener(t)
	w0 := dial(t, l.Addr())
	set, err := l.Accept(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, set.Size())

	require.NoError(t, set.Write(ctx, 0, []byte("hello worker")))
	got, err := w0.Receive(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello worker", string(got))

	require.NoError(t, w0.Send(ctx, []byte("hello master")))
	got, err = set.Read(ctx, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello master", string(got))
}

// holdingStream 保留每個送出的訊息，不做序列化
type holdingStream struct {
	sent   []*wrapperspb.BytesValue
	closed chan struct{}
}

func (s *holdingStream) SendMsg(m interface{}) error {
	s.sent = append(s.sent, m.(*wrapperspb.BytesValue))
	return nil
}

func (s *holdingStream) RecvMsg(interface{}) error {
	<-s.closed
	return io.EOF
}

func TestSendDoesNotAliasCallerBuffer(t *testing.T) {
	stream := &holdingStream{closed: make(chan struct{})}
	c := newConn("holding", stream, 1, func() { close(stream.closed) })
	defer c.Close()

	buf := []byte("first")
	require.NoError(t, c.Send(context.Background(), buf))
	copy(buf, "XXXXX") // 呼叫端重用緩衝區
	require.NoError(t, c.Send(context.Background(), buf))

	require.Len(t, stream.sent, 2)
	assert.Equal(t, "first", string(stream.sent[0].GetValue()))
	assert.Equal(t, "XXXXX", string(stream.sent[1].GetValue()))
}

func TestReadyPolling(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	l := startListener(t)
	workers := []*Conn{dial(t, l.Addr()), dial(t, l.Addr())}
	set, err := l.Accept(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, transport.NoneReady, set.ReadyConnection())

	// Attach order is not dial order; find which worker is seq 1 by echo.
	require.NoError(t, set.Write(ctx, 1, []byte("who")))
	var second *Conn
	require.Eventually(t, func() bool {
		for _, w := range workers {
			if w.Ready() {
				second = w
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
	_, err = second.Receive(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, second.Send(ctx, []byte("me")))
	require.Eventually(t, func() bool { return set.ReadyConnection() == 1 }, 5*time.Second, 5*time.Millisecond)
}

func TestWorkerCloseSeenByMaster(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	l := startListener(t)
	w := dial(t, l.Addr())
	set, err := l.Accept(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, w.Close())
	_, err = set.Read(ctx, 0, nil)
	assert.ErrorIs(t, err, transport.ErrConnectionClosed)
}

func TestMasterCloseSeenByWorker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	l := startListener(t)
	w := dial(t, l.Addr())
	set, err := l.Accept(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, set.Close())
	_, err = w.Receive(ctx, nil)
	assert.ErrorIs(t, err, transport.ErrConnectionClosed)
}

func TestAcceptHonoursContext(t *testing.T) {
	l := startListener(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := l.Accept(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
