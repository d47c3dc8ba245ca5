package envelope

// ============================================================================
// Envelope Test File
// Purpose: Verify header layout, in-place patching and receive validation
// ============================================================================

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/ChuLiYu/mwcontrol/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	w := Begin(types.OpStep, 7, 3)
	w.Payload().PutString("payload")
	w.Payload().PutFloat64(4.5)
	buf := w.Finish()

	r, err := Open(buf)
	require.NoError(t, err)
	assert.Equal(t, types.OpStep, r.Operation())
	assert.Equal(t, int32(7), r.StreamID())
	assert.Equal(t, int32(3), r.WorkerID())
	assert.Equal(t, Times{}, r.Times())
	assert.Equal(t, "payload", r.Payload().GetString())
	assert.Equal(t, 4.5, r.Payload().GetFloat64())
	assert.NoError(t, r.Close())
}

func TestHeaderAtFixedOffset(t *testing.T) {
	buf := Message(types.OpInit, 1, 2)
	assert.Len(t, buf, HeaderSize+TrailerSize)
	assert.Equal(t, "mw", string(buf[offName:offName+2]))
	assert.Equal(t, uint32(len(buf)), binary.LittleEndian.Uint32(buf[offLength:]))
}

// ============================================================================
// In-place Patch Tests
// ============================================================================

func TestPatchAfterPayload(t *testing.T) {
	w := Begin(types.OpInit, 0, 5)
	w.Payload().PutInt32s([]int32{1, 2})
	before := w.Payload().Len()

	times := Times{Real: 1.25, System: 0.5, User: 0.75, Elapsed: 2.5}
	w.SetOperation(42)
	w.SetTimes(times)
	assert.Equal(t, before, w.Payload().Len(), "patching must not grow the buffer")

	r, err := Open(w.Finish())
	require.NoError(t, err)
	assert.Equal(t, int32(42), r.Operation())
	assert.Equal(t, times, r.Times())
	assert.Equal(t, []int32{1, 2}, r.Payload().GetInt32s())
	assert.NoError(t, r.Close())
}

func TestFinishIdempotent(t *testing.T) {
	w := Begin(types.OpStep, 0, 0)
	a := w.Finish()
	b := w.Finish()
	assert.Equal(t, a, b)
}

// ============================================================================
// Validation Tests
// ============================================================================

func TestVersionMismatch(t *testing.T) {
	buf := Message(types.OpStep, 0, 0)
	binary.LittleEndian.PutUint16(buf[offVersion:], 9)

	_, err := Open(buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVersionMismatch))

	var ve *VersionError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, int16(9), ve.Got)
	assert.Contains(t, err.Error(), "version 9")
}

func TestMalformed(t *testing.T) {
	good := Message(types.OpStep, 0, 0)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"truncated", func(b []byte) []byte { return b[:10] }},
		{"bad start", func(b []byte) []byte { b[0] = 0; return b }},
		{"bad length", func(b []byte) []byte { return append(b, 0) }},
		{"bad name", func(b []byte) []byte { b[offName] = 'x'; return b }},
		{"bad end", func(b []byte) []byte { b[len(b)-1] = 0; return b }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.mutate(append([]byte(nil), good...))
			_, err := Open(buf)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestUnconsumedPayload(t *testing.T) {
	w := Begin(types.OpStep, 0, 0)
	w.Payload().PutInt32(1)
	w.Payload().PutInt32(2)

	r, err := Open(w.Finish())
	require.NoError(t, err)
	r.Payload().GetInt32()
	assert.ErrorIs(t, r.Close(), ErrUnconsumedPayload)
}

func TestQuitMessage(t *testing.T) {
	r, err := Open(QuitMessage())
	require.NoError(t, err)
	assert.True(t, types.IsQuit(r.Operation()))
	assert.NoError(t, r.Close())
}
