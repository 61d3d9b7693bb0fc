package stream

import (
	"fmt"
	"io"
	"os"
)

// File is a Stream backed by an *os.File. Reads issued through
// ReadSpan run on a background goroutine against a private offset, so
// the caller can decompress one block while the next one is in flight.
type File struct {
	f       *os.File
	pos     int64
	pending chan error
}

var _ Stream = (*File)(nil)

// Create opens path for writing, truncating any existing file.
func Create(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return &File{f: f}, nil
}

// Open opens path for reading.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &File{f: f}, nil
}

// ReadSpan begins filling p from the current position on a background
// goroutine and advances the position immediately. The caller must
// Synchronize before touching p.
func (s *File) ReadSpan(p []byte) error {
	if err := s.Synchronize(); err != nil {
		return err
	}
	off := s.pos
	s.pos += int64(len(p))
	ch := make(chan error, 1)
	s.pending = ch
	go func() {
		_, err := s.f.ReadAt(p, off)
		if err == io.EOF && len(p) == 0 {
			err = nil
		}
		ch <- err
	}()
	return nil
}

// WriteSpan writes p at the current position.
func (s *File) WriteSpan(p []byte) error {
	if err := s.Synchronize(); err != nil {
		return err
	}
	n, err := s.f.WriteAt(p, s.pos)
	s.pos += int64(n)
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// Tell returns the current position.
func (s *File) Tell() (int64, error) {
	if err := s.Synchronize(); err != nil {
		return 0, err
	}
	return s.pos, nil
}

// SeekTo moves the position to offset bytes from the start.
func (s *File) SeekTo(offset int64) error {
	if err := s.Synchronize(); err != nil {
		return err
	}
	if offset < 0 {
		return fmt.Errorf("invalid seek offset %d", offset)
	}
	s.pos = offset
	return nil
}

// SeekEnd moves the position to offset bytes before the end.
func (s *File) SeekEnd(offset int64) error {
	if err := s.Synchronize(); err != nil {
		return err
	}
	end, err := s.Length()
	if err != nil {
		return err
	}
	if offset < 0 || offset > end {
		return fmt.Errorf("invalid seek offset %d", offset)
	}
	s.pos = end - offset
	return nil
}

// Length returns the file length.
func (s *File) Length() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat failed: %w", err)
	}
	return info.Size(), nil
}

// Synchronize awaits any outstanding ReadSpan.
func (s *File) Synchronize() error {
	if s.pending == nil {
		return nil
	}
	err := <-s.pending
	s.pending = nil
	if err != nil {
		return fmt.Errorf("read failed: %w", err)
	}
	return nil
}

// Close awaits any outstanding read and closes the file.
func (s *File) Close() error {
	syncErr := s.Synchronize()
	if err := s.f.Close(); err != nil {
		return err
	}
	return syncErr
}
