package blob

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Primitive Encoding Tests
// ============================================================================

func TestPrimitives(t *testing.T) {
	w := NewWriter(nil)
	w.PutStart("obj", 3)
	w.PutInt32(-7)
	w.PutInt64(1 << 40)
	w.PutFloat32(1.5)
	w.PutFloat64(-2.25)
	w.PutBool(true)
	w.PutString("hello")
	w.PutStrings([]string{"a", "bc"})
	w.PutInt32s([]int32{1, 2, 3})
	w.PutFloat64s([]float64{0.5})
	w.PutBytes([]byte{9, 8})
	w.PutEnd()
	assert.Equal(t, 0, w.Depth())

	r := NewReader(w.Bytes())
	version, err := r.GetStart("obj")
	require.NoError(t, err)
	assert.Equal(t, int16(3), version)
	assert.Equal(t, int32(-7), r.GetInt32())
	assert.Equal(t, int64(1<<40), r.GetInt64())
	assert.Equal(t, float32(1.5), r.GetFloat32())
	assert.Equal(t, -2.25, r.GetFloat64())
	assert.True(t, r.GetBool())
	assert.Equal(t, "hello", r.GetString())
	assert.Equal(t, []string{"a", "bc"}, r.GetStrings())
	assert.Equal(t, []int32{1, 2, 3}, r.GetInt32s())
	assert.Equal(t, []float64{0.5}, r.GetFloat64s())
	assert.Equal(t, []byte{9, 8}, r.GetBytes())
	require.NoError(t, r.GetEnd())
	assert.Equal(t, 0, r.Remaining())
}

func TestEmptySlicesDecodeAsNil(t *testing.T) {
	w := NewWriter(nil)
	w.PutStrings(nil)
	w.PutInt32s([]int32{})

	r := NewReader(w.Bytes())
	assert.Nil(t, r.GetStrings())
	assert.Nil(t, r.GetInt32s())
	assert.NoError(t, r.Err())
}

// ============================================================================
// Framing Error Tests
// ============================================================================

func TestNameMismatch(t *testing.T) {
	w := NewWriter(nil)
	w.PutStart("SolveStep", 1)
	w.PutEnd()

	r := NewReader(w.Bytes())
	_, err := r.GetStart("PredictStep")
	var nm *NameMismatchError
	require.True(t, errors.As(err, &nm))
	assert.Equal(t, "SolveStep", nm.Actual)
}

func TestPeekName(t *testing.T) {
	w := NewWriter(nil)
	w.PutStart("MultiStep", 1)

	r := NewReader(w.Bytes())
	name, err := r.PeekName()
	require.NoError(t, err)
	assert.Equal(t, "MultiStep", name)

	// Peek does not consume
	_, err = r.GetStart("MultiStep")
	assert.NoError(t, err)
}

func TestBadMagic(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4, 1, 0, 0})
	_, err := r.GetStart("x")
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestShortBufferSticks(t *testing.T) {
	r := NewReader([]byte{1, 0})
	assert.Equal(t, int32(0), r.GetInt32())
	assert.ErrorIs(t, r.Err(), ErrShortBuffer)
	// later reads keep returning zero values
	assert.Equal(t, "", r.GetString())
	assert.ErrorIs(t, r.Err(), ErrShortBuffer)
}

func TestCorruptCountRejected(t *testing.T) {
	w := NewWriter(nil)
	w.PutUint32(1 << 30) // absurd element count with no data behind it
	r := NewReader(w.Bytes())
	assert.Nil(t, r.GetFloat64s())
	assert.ErrorIs(t, r.Err(), ErrShortBuffer)
}
