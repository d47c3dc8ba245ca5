package inproc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChuLiYu/mwcontrol/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Pipe Tests
// ============================================================================

func TestPipeExchange(t *testing.T) {
	ctx := context.Background()
	m, w := Pipe(2)

	buf := []byte("ping")
	require.NoError(t, m.Send(ctx, buf))
	buf[0] = 'x' // sender reuses its buffer

	assert.True(t, w.Ready())
	got, err := w.Receive(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))
	assert.False(t, w.Ready())

	require.NoError(t, w.Send(ctx, []byte("pong")))
	got, err = m.Receive(ctx, make([]byte, 0, 64))
	require.NoError(t, err)
	assert.Equal(t, "pong", string(got))
}

func TestPipeReceiveAfterClose(t *testing.T) {
	ctx := context.Background()
	m, w := Pipe(1)

	require.NoError(t, m.Send(ctx, []byte("last")))
	require.NoError(t, m.Close())

	// queued message still delivered, then closed
	got, err := w.Receive(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "last", string(got))

	_, err = w.Receive(ctx, nil)
	assert.ErrorIs(t, err, transport.ErrConnectionClosed)
	assert.ErrorIs(t, w.Send(ctx, []byte("x")), transport.ErrConnectionClosed)
}

func TestPipeReceiveHonoursContext(t *testing.T) {
	_, w := Pipe(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := w.Receive(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ============================================================================
// Direct (call-through) Tests
// ============================================================================

type echoHandler struct {
	calls atomic.Int32
	stop  string
}

func (h *echoHandler) HandleMessage(_ context.Context, in []byte) ([]byte, bool, error) {
	h.calls.Add(1)
	if string(in) == h.stop {
		return nil, false, nil
	}
	if string(in) == "silent" {
		return nil, true, nil
	}
	return append([]byte("re:"), in...), true, nil
}

func TestDirectCallThrough(t *testing.T) {
	ctx := context.Background()
	h := &echoHandler{stop: "quit"}
	c := Direct("w0", h)

	require.NoError(t, c.Send(ctx, []byte("a")))
	assert.Equal(t, int32(1), h.calls.Load(), "handler runs inside Send")
	assert.True(t, c.Ready())

	got, err := c.Receive(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "re:a", string(got))

	require.NoError(t, c.Send(ctx, []byte("silent")))
	_, err = c.Receive(ctx, nil)
	assert.ErrorIs(t, err, ErrNoReply)

	require.NoError(t, c.Send(ctx, []byte("quit")))
	assert.ErrorIs(t, c.Send(ctx, []byte("a")), transport.ErrConnectionClosed)
	_, err = c.Receive(ctx, nil)
	assert.ErrorIs(t, err, transport.ErrConnectionClosed)
}
