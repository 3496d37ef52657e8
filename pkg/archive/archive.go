// Package archive selects a single member out of an archived or compressed
// payload held in memory.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

type kind int

const (
	kindZip kind = iota
	kindTar
	kindGzip
	kindZstd
)

var mediaTypes = map[string]kind{
	"application/zip":              kindZip,
	"application/x-zip-compressed": kindZip,
	"application/x-tar":            kindTar,
	"application/gzip":             kindGzip,
	"application/x-gzip":           kindGzip,
	"application/zstd":             kindZstd,
}

// ErrNoMember is returned when no member of the archive is acceptable.
var ErrNoMember = errors.New("no matching member in archive")

// MediaTypes lists the archive media types Open understands, sorted.
func MediaTypes() []string {
	types := make([]string, 0, len(mediaTypes))
	for mt := range mediaTypes {
		types = append(types, mt)
	}
	sort.Strings(types)
	return types
}

// Member is an opened archive entry.
type Member struct {
	// Name is the entry path inside the archive. For a bare gzip stream it is
	// the file name stored in the header, possibly empty.
	Name string
	io.Reader
}

// Open returns the first member of r for which accept returns true.
// Directories are skipped. A gzip or zstd stream wrapping a tarball is read
// as a tarball; any other compressed stream is a single member and accept is
// not consulted.
func Open(mediaType string, r io.Reader, accept func(name string) bool) (*Member, error) {
	k, ok := mediaTypes[mediaType]
	if !ok {
		return nil, fmt.Errorf("unsupported archive format: %s", mediaType)
	}

	switch k {
	case kindZip:
		return openZip(r, accept)
	case kindTar:
		return openTar(r, accept)
	case kindGzip:
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return openCompressed(gzr.Name, gzr, accept)
	default:
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return openCompressed("", zr.IOReadCloser(), accept)
	}
}

func openZip(r io.Reader, accept func(string) bool) (*Member, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip archive: %w", err)
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !accept(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open archive entry %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read archive entry %s: %w", f.Name, err)
		}
		return &Member{Name: f.Name, Reader: bytes.NewReader(content)}, nil
	}
	return nil, ErrNoMember
}

func openTar(r io.Reader, accept func(string) bool) (*Member, error) {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil, ErrNoMember
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar header: %w", err)
		}
		if header.Typeflag != tar.TypeReg || !accept(header.Name) {
			continue
		}
		return &Member{Name: header.Name, Reader: tr}, nil
	}
}

func openCompressed(name string, r io.Reader, accept func(string) bool) (*Member, error) {
	br := bufio.NewReader(r)
	if strings.HasSuffix(name, ".tar") || isTar(br) {
		return openTar(br, accept)
	}
	return &Member{Name: name, Reader: br}, nil
}

// isTar looks for the ustar magic of the first header block.
func isTar(br *bufio.Reader) bool {
	block, err := br.Peek(262)
	if err != nil {
		return false
	}
	return string(block[257:262]) == "ustar"
}

// Match returns an accept function for Open. An empty pattern accepts every
// name with one of exts; otherwise the pattern is matched against the full
// name and the base name with path.Match.
func Match(pattern string, exts ...string) func(string) bool {
	return func(name string) bool {
		if pattern != "" {
			if ok, _ := path.Match(pattern, name); ok {
				return true
			}
			ok, _ := path.Match(pattern, path.Base(name))
			return ok
		}
		lower := strings.ToLower(name)
		for _, ext := range exts {
			if strings.HasSuffix(lower, ext) {
				return true
			}
		}
		return false
	}
}
