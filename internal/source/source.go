// Package source provides the sorted record sources a job reads from.
// Every source yields raw card-image lines in group-key order and
// returns io.EOF once exhausted.
package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Source is a forward-only cursor over raw lines
type Source interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// Seeker is implemented by sources that can apply the resume filter
// themselves
type Seeker interface {
	SeekAfter(key string) error
}

// FileSource reads newline-delimited card images from a file
type FileSource struct {
	f       *os.File
	scanner *bufio.Scanner
	lines   int64
}

// OpenFile opens path for reading
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &FileSource{f: f, scanner: scanner}, nil
}

// Next returns the next line without its line terminator
func (s *FileSource) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read line %d: %w", s.lines+1, err)
		}
		return "", io.EOF
	}

	s.lines++
	return strings.TrimRight(s.scanner.Text(), "\r"), nil
}

// Lines returns how many lines have been read
func (s *FileSource) Lines() int64 {
	return s.lines
}

// Close closes the underlying file
func (s *FileSource) Close() error {
	return s.f.Close()
}

// KeyFunc extracts the comparable composite key from a raw line
type KeyFunc func(line string) (string, error)

// Resume drops leading lines whose key is at or before a watermark.
// Input is sorted, so filtering stops at the first line that passes.
type Resume struct {
	src     Source
	key     KeyFunc
	skip    func(key string) bool
	done    bool
	skipped int64
}

// NewResume wraps src with a resume filter
func NewResume(src Source, key KeyFunc, skip func(key string) bool) *Resume {
	return &Resume{src: src, key: key, skip: skip}
}

// Next returns the next line past the watermark
func (r *Resume) Next(ctx context.Context) (string, error) {
	for {
		line, err := r.src.Next(ctx)
		if err != nil || r.done {
			return line, err
		}

		key, err := r.key(line)
		if err != nil {
			return "", err
		}
		if !r.skip(key) {
			r.done = true
			return line, nil
		}
		r.skipped++
	}
}

// Skipped returns how many lines were dropped
func (r *Resume) Skipped() int64 {
	return r.skipped
}

// Close closes the wrapped source
func (r *Resume) Close() error {
	return r.src.Close()
}
