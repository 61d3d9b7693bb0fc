// Package compress wraps the external block codec behind the
// block-granular streaming contract the serializer engine consumes.
//
// The engine hands the driver one uncompressed buffer and pulls
// compressed blocks out of it one Pack call at a time. A block that
// does not shrink is reported as Incompressible and the caller stores
// it verbatim; the decode side detects that case by comparing the
// stored size against the block size, so the codec itself never sees
// those bytes again.
package compress

import (
	"fmt"
	"unsafe"

	"github.com/klauspost/compress/zstd"
)

// Level selects the compression quality. The four levels map onto the
// codec's fixed/dynamic engine grid: FAST and LOW run the fixed engine
// at its fast and medium settings, MEDIUM and HIGH run the dynamic
// engine at its medium and high settings.
type Level uint8

const (
	// Fast is the fixed engine at its fastest setting.
	Fast Level = iota
	// Low is the fixed engine at its medium setting.
	Low
	// Medium is the dynamic engine at its medium setting.
	Medium
	// High is the dynamic engine at its highest setting.
	High
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case Fast:
		return "FAST"
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	}
	return "UNKNOWN"
}

// State reports the outcome of a Pack call.
type State uint8

const (
	// Done means the block written was the last one.
	Done State = iota
	// NotDone means the block was written and more input remains.
	NotDone
	// Incompressible means the current block did not shrink; nothing
	// was written and the caller must copy the input block verbatim.
	// The input position still advances past the block.
	Incompressible
)

func encoderLevel(l Level) (zstd.EncoderLevel, error) {
	switch l {
	case Fast:
		return zstd.SpeedFastest, nil
	case Low:
		return zstd.SpeedDefault, nil
	case Medium:
		return zstd.SpeedBetterCompression, nil
	case High:
		return zstd.SpeedBestCompression, nil
	}
	return 0, fmt.Errorf("invalid compression level %d", l)
}

// Compressor streams one source buffer out as compressed blocks.
type Compressor struct {
	enc       *zstd.Encoder
	src       []byte
	blockSize int
	pos       int
	lastPos   int
}

// NewCompressor creates a compressor over src that emits blocks of at
// most blockSize uncompressed bytes each.
func NewCompressor(blockSize int, src []byte, level Level) (*Compressor, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}
	el, err := encoderLevel(level)
	if err != nil {
		return nil, err
	}
	// Concurrency 1 keeps output deterministic for a given level.
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(el),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	return &Compressor{enc: enc, src: src, blockSize: blockSize}, nil
}

// Pos returns the input offset of the next block.
func (c *Compressor) Pos() int { return c.pos }

// LastPosition returns the input offset at the start of the last Pack
// call. The caller uses it to source the verbatim copy after an
// Incompressible result.
func (c *Compressor) LastPosition() int { return c.lastPos }

// Pack compresses the next input block into dst and returns the number
// of compressed bytes written plus the stream state. On Incompressible
// nothing is written; the input block spans
// [LastPosition(), LastPosition()+n) where n = min(blockSize, remaining).
func (c *Compressor) Pack(dst []byte) (int, State, error) {
	if c.pos >= len(c.src) {
		return 0, Done, nil
	}
	c.lastPos = c.pos
	n := min(c.blockSize, len(c.src)-c.pos)
	block := c.src[c.pos : c.pos+n]
	c.pos += n

	state := NotDone
	if c.pos >= len(c.src) {
		state = Done
	}

	out := c.enc.EncodeAll(block, dst[:0])
	if len(out) >= n || len(out) > len(dst) {
		return 0, Incompressible, nil
	}
	// The encoder may have grown its own buffer instead of appending
	// into dst; make sure the caller's slice holds the block.
	if unsafe.SliceData(out) != unsafe.SliceData(dst) {
		copy(dst, out)
	}
	return len(out), state, nil
}

// Close releases the underlying encoder.
func (c *Compressor) Close() error {
	c.enc.Close()
	return nil
}

// Decompressor is the mirror of Compressor: it expands one stored
// block per Unpack call. A single decompressor serves blocks produced
// at any level, since blocks are self-describing.
type Decompressor struct {
	dec       *zstd.Decoder
	blockSize int
}

// NewDecompressor creates a decompressor for blocks of at most
// blockSize uncompressed bytes.
func NewDecompressor(blockSize int) (*Decompressor, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	return &Decompressor{dec: dec, blockSize: blockSize}, nil
}

// Unpack expands one compressed block from src into dst and returns
// the number of bytes written. dst must be long enough for the whole
// expanded block; the expansion happens in place when possible.
func (d *Decompressor) Unpack(dst, src []byte) (int, error) {
	out, err := d.dec.DecodeAll(src, dst[:0])
	if err != nil {
		return 0, fmt.Errorf("failed to decompress block: %w", err)
	}
	if len(out) > len(dst) {
		return 0, fmt.Errorf("decompressed block of %d bytes exceeds destination of %d", len(out), len(dst))
	}
	// DecodeAll appends into dst when its capacity suffices; if the
	// decoder grew a fresh buffer instead, copy back.
	if unsafe.SliceData(out) != unsafe.SliceData(dst) {
		copy(dst, out)
	}
	return len(out), nil
}

// Close releases the underlying decoder.
func (d *Decompressor) Close() error {
	d.dec.Close()
	return nil
}
