package parset

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetTyped(t *testing.T) {
	s := New()
	s.Add("Name", "part-0")
	s.AddInt("NNodes", 3)
	s.AddFloat("StartTime", 4.5e9)
	s.AddBool("Enabled", true)
	s.AddStrings("FileSys", []string{"fs0", "fs1"})
	s.AddInts("NChan", []int{64, 128})
	s.AddFloats("StartFreqs", []float64{1.2e8, 1.3e8})

	assert.Equal(t, []string{"Name", "NNodes", "StartTime", "Enabled", "FileSys", "NChan", "StartFreqs"}, s.Keys())

	name, err := s.String("Name")
	require.NoError(t, err)
	assert.Equal(t, "part-0", name)

	n, err := s.Int("NNodes")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	f, err := s.Float("StartTime")
	require.NoError(t, err)
	assert.Equal(t, 4.5e9, f)

	b, err := s.Bool("Enabled")
	require.NoError(t, err)
	assert.True(t, b)

	fs, err := s.Strings("FileSys")
	require.NoError(t, err)
	assert.Equal(t, []string{"fs0", "fs1"}, fs)

	nc, err := s.Ints("NChan")
	require.NoError(t, err)
	assert.Equal(t, []int{64, 128}, nc)

	sf, err := s.Floats("StartFreqs")
	require.NoError(t, err)
	assert.Equal(t, []float64{1.2e8, 1.3e8}, sf)
}

func TestMissingKey(t *testing.T) {
	s := New()
	_, err := s.Int("NNodes")
	var mk *MissingKeyError
	require.ErrorAs(t, err, &mk)
	assert.Equal(t, "NNodes", mk.Key)

	assert.Equal(t, 7, s.IntOr("NNodes", 7))
	assert.Equal(t, "x", s.StringOr("Name", "x"))
	assert.Equal(t, 1.5, s.FloatOr("Epsilon", 1.5))
	assert.Nil(t, s.StringsOr("FileSys"))
}

func TestScalarVersusList(t *testing.T) {
	s := New()
	s.Add("One", "fs0")
	s.AddStrings("Many", []string{"a"})

	got, err := s.Strings("One")
	require.NoError(t, err)
	assert.Equal(t, []string{"fs0"}, got)

	_, err = s.String("Many")
	assert.Error(t, err)
}

func TestSubsetAndMerge(t *testing.T) {
	s := New()
	s.AddInt("NParts", 2)
	s.Add("Part0.Name", "p0")
	s.Add("Part1.Name", "p1")
	s.AddStrings("Part1.FileSys", []string{"fs1"})

	sub := s.Subset("Part1.")
	assert.Equal(t, []string{"Name", "FileSys"}, sub.Keys())
	assert.Equal(t, "p1", sub.StringOr("Name", ""))

	out := New()
	out.Merge("Copy.", sub)
	assert.Equal(t, []string{"Copy.Name", "Copy.FileSys"}, out.Keys())
}

// ============================================================================
// Encoding Tests
// ============================================================================

func TestMarshalRoundTrip(t *testing.T) {
	s := New()
	s.Add("ClusterName", "lofar")
	s.Add("Tricky", "true")
	s.Add("Padded", "007")
	s.Add("Colon", "a: b")
	s.Add("Empty", "")
	s.AddInt("NNodes", 2)
	s.AddStrings("Node0.FileSys", []string{"fs0", "fs1"})
	s.AddStrings("Node1.FileSys", nil)
	s.AddFloats("EndFreqs", []float64{1.5e8})

	data, err := s.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "NNodes: 2")
	assert.Contains(t, string(data), "Node0.FileSys: [fs0, fs1]")

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, s.Keys(), back.Keys())
	for _, k := range []string{"ClusterName", "Tricky", "Padded", "Colon", "Empty"} {
		want, _ := s.String(k)
		got, err := back.String(k)
		require.NoError(t, err, k)
		assert.Equal(t, want, got, k)
	}
	fs, err := back.Strings("Node0.FileSys")
	require.NoError(t, err)
	assert.Equal(t, []string{"fs0", "fs1"}, fs)
	empty, err := back.Strings("Node1.FileSys")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestUnmarshalRejectsNesting(t *testing.T) {
	_, err := Unmarshal([]byte("Node:\n  Name: A\n"))
	assert.ErrorIs(t, err, ErrNotFlat)

	_, err = Unmarshal([]byte("- a\n- b\n"))
	assert.ErrorIs(t, err, ErrNotFlat)
}

func TestUnmarshalEmpty(t *testing.T) {
	s, err := Unmarshal(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.parset")
	s := New()
	s.Add("ClusterName", "c")
	require.NoError(t, s.WriteFile(path))

	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "c", back.StringOr("ClusterName", ""))

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
