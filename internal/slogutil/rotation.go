package slogutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// RotatingFile is an append-only log file that moves itself aside once it
// would grow past a size limit. Rotated generations are kept as path.1
// (newest) through path.N (oldest).
type RotatingFile struct {
	mu sync.Mutex

	path  string
	limit int64
	keep  int

	f       *os.File
	written int64
}

// OpenRotatingFile opens path for appending, creating parent directories.
// A limit of 0 never rotates. With keep 0 a rotation discards the old
// contents instead of saving a generation.
func OpenRotatingFile(path string, limit int64, keep int) (*RotatingFile, error) {
	r := &RotatingFile{path: path, limit: limit, keep: keep}
	if err := r.reopen(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RotatingFile) reopen() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	r.f, r.written = f, st.Size()
	return nil
}

// full reports whether appending n more bytes would pass the limit. An
// empty file is never full, so one oversized record still gets written.
func (r *RotatingFile) full(n int) bool {
	return r.limit > 0 && r.written > 0 && r.written+int64(n) > r.limit
}

// Write appends p, rotating first when p would not fit. If rotation fails
// the record goes to whichever file is open.
func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.full(len(p)) {
		_ = r.rotate()
	}
	if r.f == nil {
		return 0, fs.ErrClosed
	}
	n, err := r.f.Write(p)
	r.written += int64(n)
	return n, err
}

// Close closes the current file.
func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

func (r *RotatingFile) rotate() error {
	if err := r.f.Close(); err != nil {
		return err
	}
	r.f = nil

	if r.keep == 0 {
		_ = os.Remove(r.path)
		return r.reopen()
	}

	// The oldest generation falls off; the rest shift up by one.
	_ = os.Remove(r.generation(r.keep))
	for gen := r.keep - 1; gen >= 1; gen-- {
		err := os.Rename(r.generation(gen), r.generation(gen+1))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	_ = os.Rename(r.path, r.generation(1))
	return r.reopen()
}

func (r *RotatingFile) generation(n int) string {
	return r.path + "." + strconv.Itoa(n)
}

var sizeUnits = []struct {
	suffix string
	bytes  float64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// ParseSize converts "500KB", "10MB", "1.5GB" or a bare byte count into
// bytes. Units are binary and case-insensitive; "" is 0.
func ParseSize(s string) (int64, error) {
	text := strings.ToUpper(strings.TrimSpace(s))
	if text == "" {
		return 0, nil
	}

	mult := float64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(text, u.suffix) {
			text, mult = strings.TrimSpace(strings.TrimSuffix(text, u.suffix)), u.bytes
			break
		}
	}
	n, err := strconv.ParseFloat(text, 64)
	if err != nil || strings.Trim(text, "0123456789.") != "" {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return int64(n * mult), nil
}

// NewFileLoggerWithRotation returns a logger writing to path. maxSize uses
// ParseSize syntax; an empty or zero size writes one unbounded file.
func NewFileLoggerWithRotation(path string, level slog.Level, maxSize string, maxBackups int) (*slog.Logger, io.Closer, error) {
	limit, err := ParseSize(maxSize)
	if err != nil {
		return nil, nil, err
	}
	if limit <= 0 {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, err
		}
		return NewFileLogger(path, level)
	}

	rf, err := OpenRotatingFile(path, limit, maxBackups)
	if err != nil {
		return nil, nil, err
	}
	return NewLogger(rf, level), rf, nil
}
