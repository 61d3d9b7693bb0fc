package compress

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "FAST", Fast.String())
	assert.Equal(t, "LOW", Low.String())
	assert.Equal(t, "MEDIUM", Medium.String())
	assert.Equal(t, "HIGH", High.String())
}

func roundTrip(t *testing.T, src []byte, blockSize int, level Level) {
	t.Helper()

	comp, err := NewCompressor(blockSize, src, level)
	require.NoError(t, err)
	defer comp.Close()

	dec, err := NewDecompressor(blockSize)
	require.NoError(t, err)
	defer dec.Close()

	out := make([]byte, 0, len(src))
	scratch := make([]byte, blockSize)
	for {
		n := min(blockSize, len(src)-comp.Pos())
		written, state, err := comp.Pack(scratch)
		require.NoError(t, err)

		if state == Incompressible {
			// Stored verbatim: the decode side never sees these bytes.
			out = append(out, src[comp.LastPosition():comp.LastPosition()+n]...)
			if comp.Pos() >= len(src) {
				break
			}
			continue
		}

		dst := make([]byte, n)
		got, err := dec.Unpack(dst, scratch[:written])
		require.NoError(t, err)
		require.Equal(t, n, got)
		out = append(out, dst[:got]...)
		if state == Done {
			break
		}
	}
	assert.True(t, bytes.Equal(src, out))
}

func TestRoundTripCompressible(t *testing.T) {
	t.Parallel()

	src := bytes.Repeat([]byte("blockpack"), 40000) // several blocks
	for _, level := range []Level{Fast, Low, Medium, High} {
		t.Run(level.String(), func(t *testing.T) {
			t.Parallel()
			roundTrip(t, src, 64*1024, level)
		})
	}
}

func TestIncompressibleBlocks(t *testing.T) {
	t.Parallel()

	src := make([]byte, 96*1024)
	_, err := rand.Read(src)
	require.NoError(t, err)

	comp, err := NewCompressor(64*1024, src, Medium)
	require.NoError(t, err)
	defer comp.Close()

	scratch := make([]byte, 64*1024)

	_, state, err := comp.Pack(scratch)
	require.NoError(t, err)
	assert.Equal(t, Incompressible, state)
	assert.Equal(t, 0, comp.LastPosition())
	assert.Equal(t, 64*1024, comp.Pos())

	_, state, err = comp.Pack(scratch)
	require.NoError(t, err)
	assert.Equal(t, Incompressible, state)
	assert.Equal(t, 64*1024, comp.LastPosition())
	assert.Equal(t, 96*1024, comp.Pos())

	_, state, err = comp.Pack(scratch)
	require.NoError(t, err)
	assert.Equal(t, Done, state)
}

func TestShortLastBlock(t *testing.T) {
	t.Parallel()

	src := bytes.Repeat([]byte{7}, 100*1024)
	roundTrip(t, src, 64*1024, Fast)
}

func TestSingleBlock(t *testing.T) {
	t.Parallel()

	src := bytes.Repeat([]byte("abc"), 100)
	comp, err := NewCompressor(len(src), src, High)
	require.NoError(t, err)
	defer comp.Close()

	scratch := make([]byte, len(src))
	written, state, err := comp.Pack(scratch)
	require.NoError(t, err)
	require.Equal(t, Done, state)
	require.Greater(t, written, 0)

	dec, err := NewDecompressor(len(src))
	require.NoError(t, err)
	defer dec.Close()

	dst := make([]byte, len(src))
	n, err := dec.Unpack(dst, scratch[:written])
	require.NoError(t, err)
	assert.Equal(t, src, dst[:n])
}

func TestInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := NewCompressor(0, nil, Fast)
	assert.Error(t, err)
	_, err = NewCompressor(16, nil, Level(9))
	assert.Error(t, err)
	_, err = NewDecompressor(0)
	assert.Error(t, err)
}

func TestDeterministic(t *testing.T) {
	t.Parallel()

	src := bytes.Repeat([]byte("deterministic"), 5000)
	pack := func() []byte {
		comp, err := NewCompressor(64*1024, src, Medium)
		require.NoError(t, err)
		defer comp.Close()
		scratch := make([]byte, 64*1024)
		out := []byte{}
		for {
			written, state, err := comp.Pack(scratch)
			require.NoError(t, err)
			require.NotEqual(t, Incompressible, state)
			out = append(out, scratch[:written]...)
			if state == Done {
				return out
			}
		}
	}
	assert.Equal(t, pack(), pack())
}
