// Package stream provides the seekable byte-stream abstraction the
// serializer reads and writes through.
//
// The read side is pipelined: ReadSpan may begin an asynchronous read
// and return immediately, and Synchronize is the barrier that awaits
// it. The loader leans on this to overlap the next compressed block's
// read with the decompression of the previous one. Writes, seeks and
// Tell are always synchronous; they wait for any outstanding read
// first.
package stream

import "io"

// Stream is a seekable byte stream with optional read pipelining.
//
// A Stream is not reentrant and not safe for concurrent use. At most
// one ReadSpan may be outstanding; issuing another, or a write, seek
// or Tell, first awaits the pending read.
type Stream interface {
	io.Closer

	// ReadSpan fills p from the current position and advances the
	// position by len(p). The fill may complete asynchronously; p must
	// not be touched until the next Synchronize returns.
	ReadSpan(p []byte) error

	// WriteSpan writes p at the current position and advances it.
	WriteSpan(p []byte) error

	// Tell returns the current position.
	Tell() (int64, error)

	// SeekTo moves the position to offset bytes from the start.
	SeekTo(offset int64) error

	// SeekEnd moves the position to offset bytes before the end.
	SeekEnd(offset int64) error

	// Length returns the current stream length in bytes.
	Length() (int64, error)

	// Synchronize blocks until any outstanding ReadSpan has completed
	// and reports its error.
	Synchronize() error
}
