package stream

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exercise runs the same protocol against any Stream implementation.
func exercise(t *testing.T, s Stream) {
	t.Helper()

	require.NoError(t, s.WriteSpan([]byte("hello world")))

	pos, err := s.Tell()
	require.NoError(t, err)
	assert.Equal(t, int64(11), pos)

	length, err := s.Length()
	require.NoError(t, err)
	assert.Equal(t, int64(11), length)

	// Overwrite in the middle.
	require.NoError(t, s.SeekTo(6))
	require.NoError(t, s.WriteSpan([]byte("there")))

	require.NoError(t, s.SeekTo(0))
	got := make([]byte, 11)
	require.NoError(t, s.ReadSpan(got))
	require.NoError(t, s.Synchronize())
	assert.Equal(t, []byte("hello there"), got)

	// Pipelined back-to-back reads: the second issue awaits the first.
	require.NoError(t, s.SeekTo(0))
	a := make([]byte, 5)
	b := make([]byte, 5)
	require.NoError(t, s.ReadSpan(a))
	require.NoError(t, s.ReadSpan(b))
	require.NoError(t, s.Synchronize())
	assert.Equal(t, []byte("hello"), a)
	assert.Equal(t, []byte(" ther"), b)

	require.NoError(t, s.SeekEnd(0))
	pos, err = s.Tell()
	require.NoError(t, err)
	assert.Equal(t, int64(11), pos)

	assert.Error(t, s.SeekTo(-1))
	assert.Error(t, s.SeekEnd(-1))
}

func TestBuffer(t *testing.T) {
	t.Parallel()

	exercise(t, NewBuffer())
}

func TestFile(t *testing.T) {
	t.Parallel()

	f, err := Create(filepath.Join(t.TempDir(), "stream.bin"))
	require.NoError(t, err)
	defer f.Close()

	exercise(t, f)
}

func TestBufferBytes(t *testing.T) {
	t.Parallel()

	s := NewBufferBytes([]byte{1, 2, 3, 4})
	got := make([]byte, 4)
	require.NoError(t, s.ReadSpan(got))
	require.NoError(t, s.Synchronize())
	assert.Equal(t, []byte{1, 2, 3, 4}, got)

	// Reading past the end fails rather than short-reading.
	assert.Error(t, s.ReadSpan(make([]byte, 1)))
}

func TestFileReadPastEnd(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "short.bin")
	f, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, f.WriteSpan([]byte{1, 2, 3}))
	require.NoError(t, f.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	got := make([]byte, 8)
	require.NoError(t, r.ReadSpan(got))
	assert.Error(t, r.Synchronize())
}

func TestBufferGrowth(t *testing.T) {
	t.Parallel()

	s := NewBuffer()
	require.NoError(t, s.SeekTo(100))
	require.NoError(t, s.WriteSpan([]byte{9}))

	length, err := s.Length()
	require.NoError(t, err)
	assert.Equal(t, int64(101), length)

	// The gap is zero-filled.
	assert.True(t, bytes.Equal(make([]byte, 100), s.Bytes()[:100]))
}
