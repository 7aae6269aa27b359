// Package compression wraps spool file writers in the codecs the engine can
// read back: gzip and zstd, both from klauspost/compress.
//
// Writers are pooled per algorithm and reset onto each new destination.
//
//	w, err := compression.NewWriter(f, compression.Zstd)
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
package compression

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Algorithm names a spool compression codec.
type Algorithm string

const (
	// None writes plain files
	None Algorithm = "none"
	// Gzip writes .gz files
	Gzip Algorithm = "gzip"
	// Zstd writes .zst files
	Zstd Algorithm = "zstd"
)

// Parse maps a configuration value to an Algorithm. The empty string is None.
func Parse(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "", None:
		return None, nil
	case Gzip:
		return Gzip, nil
	case Zstd:
		return Zstd, nil
	default:
		return "", fmt.Errorf("unsupported compression algorithm: %s", s)
	}
}

// Extension returns the file suffix the engine uses to detect the codec.
func (a Algorithm) Extension() string {
	switch a {
	case Gzip:
		return ".gz"
	case Zstd:
		return ".zst"
	default:
		return ""
	}
}

var (
	gzipPool = sync.Pool{New: func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
		return w
	}}
	zstdPool = sync.Pool{New: func() interface{} {
		w, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
		return w
	}}
)

// NewWriter returns a writer compressing into dst. Close flushes the codec and
// returns the writer to its pool; it does not close dst.
func NewWriter(dst io.Writer, a Algorithm) (io.WriteCloser, error) {
	switch a {
	case None, "":
		return nopCloser{dst}, nil
	case Gzip:
		w := gzipPool.Get().(*gzip.Writer)
		w.Reset(dst)
		return &pooledWriter{w: w, release: func() { gzipPool.Put(w) }}, nil
	case Zstd:
		w := zstdPool.Get().(*zstd.Encoder)
		w.Reset(dst)
		return &pooledWriter{w: w, release: func() { zstdPool.Put(w) }}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", a)
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type pooledWriter struct {
	w       io.WriteCloser
	release func()
	closed  bool
}

func (p *pooledWriter) Write(b []byte) (int, error) {
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	return p.w.Write(b)
}

func (p *pooledWriter) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.w.Close()
	p.release()
	return err
}
