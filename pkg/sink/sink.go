// Package sink persists lines of text to a destination chosen by format.
package sink

import (
	"context"
	"sort"
	"strings"
	"sync"

	"rigcount/pkg/common"
)

// Setting names reported in configuration errors.
const (
	FormatSetting   = "OutputFileFormat"
	LocationSetting = "OutputFileLocation"
)

// Writer appends lines to a destination it owns.
//
// Lines are written in call order, each followed by a line terminator. Output is
// only durable once Close returns. Close must be called on every exit path;
// calling it more than once is safe and returns the first result.
type Writer interface {
	WriteLine(ctx context.Context, line string) error
	Close() error
}

// Constructor opens a Writer on destination.
type Constructor func(destination string) (Writer, error)

// Factory maps format identifiers to writer constructors.
// Mutable, safe for concurrent use.
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewFactory returns a Factory with no formats registered.
func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]Constructor)}
}

// NewDefaultFactory returns a Factory with the built-in formats.
func NewDefaultFactory() *Factory {
	f := NewFactory()
	f.Register("csv", NewCSV)
	f.Register("csv.gz", NewGzipCSV)
	f.Register("csv.zst", NewZstdCSV)
	return f
}

// Default is the process-wide factory used by the package-level helpers.
var Default = NewDefaultFactory()

// Register adds or replaces the constructor for format.
func (f *Factory) Register(format string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[normalize(format)] = ctor
}

// Formats returns the registered format identifiers, sorted.
func (f *Factory) Formats() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	formats := make([]string, 0, len(f.constructors))
	for name := range f.constructors {
		formats = append(formats, name)
	}
	sort.Strings(formats)
	return formats
}

// Check validates a destination without touching it. The location is checked
// before the format, so an empty location is reported even when the format is
// also wrong.
func (f *Factory) Check(format, destination string) error {
	_, err := f.lookup(format, destination)
	return err
}

// New validates the settings and opens a Writer. Invalid settings fail with a
// *common.ConfigError; errors opening the destination are returned as-is.
func (f *Factory) New(format, destination string) (Writer, error) {
	ctor, err := f.lookup(format, destination)
	if err != nil {
		return nil, err
	}
	return ctor(destination)
}

// With opens a Writer, hands it to fn and closes it exactly once, whatever fn
// returns. A Close failure is reported when fn itself succeeded.
func (f *Factory) With(ctx context.Context, format, destination string, fn func(context.Context, Writer) error) (err error) {
	w, err := f.New(format, destination)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, w)
}

func (f *Factory) lookup(format, destination string) (Constructor, error) {
	if strings.TrimSpace(destination) == "" {
		return nil, common.NewConfigError(LocationSetting, "missing output file location")
	}

	f.mu.RLock()
	ctor, ok := f.constructors[normalize(format)]
	f.mu.RUnlock()
	if !ok {
		return nil, common.NewConfigError(FormatSetting, "wrong or missing output file format %q", format)
	}
	return ctor, nil
}

func normalize(format string) string {
	return strings.ToLower(strings.TrimSpace(format))
}

// New opens a Writer using the Default factory.
func New(format, destination string) (Writer, error) {
	return Default.New(format, destination)
}

// Formats lists the formats of the Default factory.
func Formats() []string {
	return Default.Formats()
}
