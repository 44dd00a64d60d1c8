// Package output provides the exclusively owned line sinks reports and
// extracts are written to.
package output

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileSink writes lines to a file and tracks the offset of the last
// durable commit. A fresh sink truncates the file; a resumed sink cuts it
// back to the committed offset so lines written after the last checkpoint
// are discarded rather than duplicated.
type FileSink struct {
	path      string
	f         *os.File
	w         *bufio.Writer
	pos       int64
	committed int64
	closed    bool
}

// OpenFile opens path for exclusive writing, resuming at offset when it is
// non-zero
func OpenFile(path string, offset int64) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	if offset == 0 {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		return &FileSink{path: path, f: f, w: bufio.NewWriterSize(f, 64*1024)}, nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to reopen %s for resume: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < offset {
		f.Close()
		return nil, fmt.Errorf("output %s is %d bytes, shorter than committed offset %d", path, info.Size(), offset)
	}
	if err := f.Truncate(offset); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	return &FileSink{
		path:      path,
		f:         f,
		w:         bufio.NewWriterSize(f, 64*1024),
		pos:       offset,
		committed: offset,
	}, nil
}

// WriteLine appends line and a newline
func (s *FileSink) WriteLine(line string) error {
	n, err := s.w.WriteString(line)
	s.pos += int64(n)
	if err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	s.pos++
	return nil
}

// Commit flushes and syncs everything written so far and returns the new
// committed offset
func (s *FileSink) Commit() (int64, error) {
	if err := s.w.Flush(); err != nil {
		return s.committed, fmt.Errorf("failed to flush %s: %w", s.path, err)
	}
	if err := s.f.Sync(); err != nil {
		return s.committed, fmt.Errorf("failed to sync %s: %w", s.path, err)
	}
	s.committed = s.pos
	return s.committed, nil
}

// Offset returns the last committed offset
func (s *FileSink) Offset() int64 {
	return s.committed
}

// Path returns the file path
func (s *FileSink) Path() string {
	return s.path
}

// Close flushes buffered lines and closes the file. Closing twice is a
// no-op.
func (s *FileSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	flushErr := s.w.Flush()
	closeErr := s.f.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
