package flat

import (
	"encoding/binary"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "index.flat")
	x, err := FromVectors([][]float32{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)

	require.NoError(t, SaveIndex(path, x))
	got, err := LoadIndex(path)

	require.NoError(t, err)
	assert.Equal(t, 3, got.Dimension())
	assert.Equal(t, x.Vectors(), got.Vectors())
}

func TestLoadIndex_Missing(t *testing.T) {
	_, err := LoadIndex(filepath.Join(t.TempDir(), "nope.flat"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoadIndex_Corrupt(t *testing.T) {
	dir := t.TempDir()
	cases := map[string][]byte{
		"garbage":   []byte("not an index at all"),
		"truncated": []byte("FLATL2v1\x02\x00\x00\x00\x05\x00\x00\x00\x00\x00\x00\x00\x00\x00"),
		"short":     []byte("FLAT"),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, body, 0o644))
			_, err := LoadIndex(path)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func header(dim uint32, count uint64) []byte {
	b := []byte(indexMagic)
	b = binary.LittleEndian.AppendUint32(b, dim)
	return binary.LittleEndian.AppendUint64(b, count)
}

func floats(n int) []byte {
	var b []byte
	for i := 0; i < n; i++ {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(i)))
	}
	return b
}

func TestLoadIndex_HeaderMustMatchPayload(t *testing.T) {
	dir := t.TempDir()
	cases := map[string][]byte{
		"overflowing count": header(2, 1<<63),
		"huge claim":        header(2, 1<<30),
		"trailing values":   append(header(2, 1), floats(100)...),
		"one extra byte":    append(header(2, 1), append(floats(2), 0)...),
		"missing values":    append(header(2, 3), floats(4)...),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, body, 0o644))
			x, err := LoadIndex(path)
			assert.ErrorIs(t, err, ErrCorrupt)
			assert.Nil(t, x)
		})
	}
}

func TestLoadIndex_ExactPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.flat")
	require.NoError(t, os.WriteFile(path, append(header(2, 2), floats(4)...), 0o644))

	x, err := LoadIndex(path)

	require.NoError(t, err)
	assert.Equal(t, 2, x.Len())
	assert.Equal(t, [][]float32{{0, 1}, {2, 3}}, x.Vectors())
}

func TestReadMatrix_TrailingData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.bin")
	require.NoError(t, WriteMatrix(path, [][]float32{{1, 2}}))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write(floats(2))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = ReadMatrix(path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLoadIndex_RejectsSideCar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.bin")
	require.NoError(t, WriteMatrix(path, [][]float32{{1}}))

	_, err := LoadIndex(path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestMatrixRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.bin")
	in := [][]float32{{0.5, -1}, {2, 3}, {4, 5}}

	require.NoError(t, WriteMatrix(path, in))
	out, err := ReadMatrix(path)

	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestWriteMatrix_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.bin")
	require.NoError(t, WriteMatrix(path, nil))

	out, err := ReadMatrix(path)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestWriteMatrix_RaggedRows(t *testing.T) {
	err := WriteMatrix(filepath.Join(t.TempDir(), "m.bin"), [][]float32{{1, 2}, {3}})
	assert.Error(t, err)
}

func TestWriteFileAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	x, err := FromVectors([][]float32{{1}})
	require.NoError(t, err)
	require.NoError(t, SaveIndex(filepath.Join(dir, "index.flat"), x))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "index.flat", entries[0].Name())
}
