package sink

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// NewCSV creates or truncates path and returns a Writer for plain CSV lines.
func NewCSV(path string) (Writer, error) {
	return openLineWriter(path, nil)
}

// NewGzipCSV is NewCSV with gzip compression of the whole file.
func NewGzipCSV(path string) (Writer, error) {
	return openLineWriter(path, func(w io.Writer) (io.WriteCloser, error) {
		return gzip.NewWriter(w), nil
	})
}

// NewZstdCSV is NewCSV with zstd compression of the whole file.
func NewZstdCSV(path string) (Writer, error) {
	return openLineWriter(path, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w)
	})
}

// Mutable
type lineWriter struct {
	file   *os.File
	owned  bool
	enc    io.WriteCloser
	buf    *bufio.Writer
	closed bool
	once   sync.Once
	err    error
}

func openLineWriter(path string, wrap func(io.Writer) (io.WriteCloser, error)) (Writer, error) {
	file, owned, err := openFile(path)
	if err != nil {
		return nil, err
	}

	w := &lineWriter{file: file, owned: owned}
	var out io.Writer = file
	if wrap != nil {
		enc, err := wrap(file)
		if err != nil {
			if owned {
				file.Close()
			}
			return nil, err
		}
		w.enc = enc
		out = enc
	}
	w.buf = bufio.NewWriter(out)
	return w, nil
}

func openFile(path string) (*os.File, bool, error) {
	switch path {
	case "/dev/stdout":
		return os.Stdout, false, nil
	case "/dev/stderr":
		return os.Stderr, false, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	return f, true, err
}

func (w *lineWriter) WriteLine(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.closed {
		return os.ErrClosed
	}
	if _, err := w.buf.WriteString(line); err != nil {
		return err
	}
	return w.buf.WriteByte('\n')
}

func (w *lineWriter) Close() error {
	w.once.Do(func() {
		w.closed = true
		err := w.buf.Flush()
		if w.enc != nil {
			if cerr := w.enc.Close(); err == nil {
				err = cerr
			}
		}
		if w.owned {
			if cerr := w.file.Close(); err == nil {
				err = cerr
			}
		}
		w.err = err
	})
	return w.err
}
