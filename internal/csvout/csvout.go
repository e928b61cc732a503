// Package csvout writes flattened tables as RFC 4180 CSV, optionally
// compressed.
package csvout

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"grantcsv/internal/flatten"
)

// Compression names accepted by Create.
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// Write encodes t as CSV: the header line, then one record per row with a
// cell for every header column. Lines end in CRLF.
func Write(w io.Writer, t *flatten.Table) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := cw.WriteAll(t.Records()); err != nil {
		return fmt.Errorf("failed to write csv rows: %w", err)
	}
	return nil
}

// Extension returns the file suffix conventionally added for compression.
func Extension(compression string) string {
	switch compression {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

// File is an output file whose Close flushes any compressor before closing
// the underlying file.
type File struct {
	io.Writer
	f       *os.File
	closers []io.Closer
}

// Create opens path for writing, creating parent directories, and wraps it
// in the named compressor. An empty compression means none.
func Create(path, compression string) (*File, error) {
	compression = strings.ToLower(strings.TrimSpace(compression))
	switch compression {
	case "", CompressionNone, CompressionGzip, CompressionZstd:
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	out := &File{Writer: f, f: f}
	switch compression {
	case CompressionGzip:
		zw := gzip.NewWriter(f)
		out.Writer, out.closers = zw, []io.Closer{zw}
	case CompressionZstd:
		zw, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		out.Writer, out.closers = zw, []io.Closer{zw}
	}
	return out, nil
}

// Name returns the path of the underlying file.
func (o *File) Name() string { return o.f.Name() }

// Close flushes and closes the compressor, then the file.
func (o *File) Close() error {
	var first error
	for _, c := range o.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := o.f.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// WriteFile writes t to path with the given compression.
func WriteFile(path, compression string, t *flatten.Table) (err error) {
	out, err := Create(path, compression)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close output file: %w", cerr)
		}
	}()
	return Write(out, t)
}

// Open opens a CSV written by WriteFile, undoing compression inferred from
// the file suffix.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch filepath.Ext(path) {
	case ".gz":
		zr, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		return readCloser{Reader: zr, close: func() error { _ = zr.Close(); return f.Close() }}, nil
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		return readCloser{Reader: zr, close: func() error { zr.Close(); return f.Close() }}, nil
	default:
		return f, nil
	}
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error { return r.close() }
