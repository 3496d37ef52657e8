package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"rigcount/pkg/common"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryConfigErrors(t *testing.T) {
	cases := []struct {
		name        string
		format      string
		destination string
		setting     string
	}{
		{"missing format", "", "/tmp/out.csv", FormatSetting},
		{"unknown format", "xml", "/tmp/out.csv", FormatSetting},
		{"missing destination", "csv", "", LocationSetting},
		{"blank destination", "csv", "   ", LocationSetting},
		{"destination checked first", "xml", "", LocationSetting},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, err := New(tc.format, tc.destination)
			assert.Nil(t, w)

			var ce *common.ConfigError
			require.True(t, errors.As(err, &ce), "expected ConfigError, got %T: %v", err, err)
			assert.Equal(t, tc.setting, ce.Setting)
		})
	}
}

func TestFactoryNoIOOnConfigError(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.csv")

	_, err := New("xml", dest)
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "factory must not create the destination for an invalid format")
}

func TestFactoryFormats(t *testing.T) {
	assert.Equal(t, []string{"csv", "csv.gz", "csv.zst"}, Formats())

	f := NewFactory()
	assert.Empty(t, f.Formats())

	f.Register(" TSV ", NewCSV)
	assert.Equal(t, []string{"tsv"}, f.Formats())
	assert.NoError(t, f.Check("tsv", "/tmp/out.tsv"))
	assert.NoError(t, f.Check("TSV", "/tmp/out.tsv"))
}

func TestCSVWriteLines(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.csv")

	w, err := New("csv", dest)
	require.NoError(t, err)

	ctx := context.Background()
	for _, line := range []string{"a", "b", "c"} {
		require.NoError(t, w.WriteLine(ctx, line))
	}
	require.NoError(t, w.Close())

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", string(content))
}

func TestCSVTruncatesExisting(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(dest, []byte("old\nold\nold\nold\n"), 0644))

	w, err := NewCSV(dest)
	require.NoError(t, err)
	require.NoError(t, w.WriteLine(context.Background(), "new"))
	require.NoError(t, w.Close())

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(content))
}

func TestCSVInaccessibleDestination(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "missing", "dir", "out.csv")

	w, err := New("csv", dest)
	assert.Nil(t, w)

	var pathErr *fs.PathError
	require.True(t, errors.As(err, &pathErr), "expected unclassified *fs.PathError, got %T", err)
	assert.False(t, common.IsConfigError(err))
	assert.False(t, common.IsTransferError(err))
}

func TestCSVCloseIdempotent(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.csv")

	w, err := NewCSV(dest)
	require.NoError(t, err)
	require.NoError(t, w.WriteLine(context.Background(), "a"))

	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	assert.ErrorIs(t, w.WriteLine(context.Background(), "b"), os.ErrClosed)
}

func TestCSVWriteLineCancelled(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.csv")

	w, err := NewCSV(dest)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.WriteLine(ctx, "kept"))
	cancel()
	assert.ErrorIs(t, w.WriteLine(ctx, "dropped"), context.Canceled)

	require.NoError(t, w.Close())
	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "kept\n", string(content))
}

func TestCompressedFormats(t *testing.T) {
	readers := map[string]func(io.Reader) (io.Reader, error){
		"csv.gz": func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) },
		"csv.zst": func(r io.Reader) (io.Reader, error) {
			d, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return d.IOReadCloser(), nil
		},
	}

	for format, open := range readers {
		t.Run(format, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "out."+format)

			w, err := New(format, dest)
			require.NoError(t, err)
			for _, line := range []string{"x,1", "y,2"} {
				require.NoError(t, w.WriteLine(context.Background(), line))
			}
			require.NoError(t, w.Close())

			f, err := os.Open(dest)
			require.NoError(t, err)
			defer f.Close()

			r, err := open(f)
			require.NoError(t, err)
			content, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, "x,1\ny,2\n", string(content))
		})
	}
}

func TestWithClosesOnEveryPath(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	dest := filepath.Join(dir, "ok.csv")
	err := Default.With(ctx, "csv", dest, func(ctx context.Context, w Writer) error {
		return w.WriteLine(ctx, "ok")
	})
	require.NoError(t, err)
	content, _ := os.ReadFile(dest)
	assert.Equal(t, "ok\n", string(content))

	// Lines written before a failure are flushed, not rolled back.
	dest = filepath.Join(dir, "fail.csv")
	boom := errors.New("boom")
	err = Default.With(ctx, "csv", dest, func(ctx context.Context, w Writer) error {
		if err := w.WriteLine(ctx, "before"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	content, _ = os.ReadFile(dest)
	assert.Equal(t, "before\n", string(content))
}

type countingWriter struct {
	closes int
}

func (c *countingWriter) WriteLine(ctx context.Context, line string) error { return nil }
func (c *countingWriter) Close() error {
	c.closes++
	return nil
}

func TestWithReleasesExactlyOnce(t *testing.T) {
	cw := &countingWriter{}
	f := NewFactory()
	f.Register("count", func(string) (Writer, error) { return cw, nil })

	_ = f.With(context.Background(), "count", "anywhere", func(ctx context.Context, w Writer) error {
		return errors.New("fail")
	})
	assert.Equal(t, 1, cw.closes)

	func() {
		defer func() { recover() }()
		_ = f.With(context.Background(), "count", "anywhere", func(ctx context.Context, w Writer) error {
			panic("boom")
		})
	}()
	assert.Equal(t, 2, cw.closes)
}

func TestConcurrentWritersDoNotInterleave(t *testing.T) {
	dir := t.TempDir()
	dests := []string{filepath.Join(dir, "one.csv"), filepath.Join(dir, "two.csv")}
	const lines = 500

	var wg sync.WaitGroup
	for i, dest := range dests {
		i, dest := i, dest
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := Default.With(context.Background(), "csv", dest, func(ctx context.Context, w Writer) error {
				for n := 0; n < lines; n++ {
					if err := w.WriteLine(ctx, fmt.Sprintf("writer%d,%d", i, n)); err != nil {
						return err
					}
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for i, dest := range dests {
		f, err := os.Open(dest)
		require.NoError(t, err)

		n := 0
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			assert.Equal(t, fmt.Sprintf("writer%d,%d", i, n), scanner.Text())
			assert.False(t, strings.Contains(scanner.Text(), fmt.Sprintf("writer%d", 1-i)))
			n++
		}
		f.Close()
		assert.Equal(t, lines, n)
	}
}
