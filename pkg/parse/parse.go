// Package parse turns a fetched payload into records according to its media type.
package parse

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"rigcount/pkg/common"
)

// Setting names reported in configuration errors.
const (
	MediaTypeSetting = "MediaType"
	QuerySetting     = "Query"
	MemberSetting    = "Member"
)

// Record is one output row.
type Record []string

// Options tune the parsers. Parsers ignore what they do not use.
type Options struct {
	// Query is a jq program selecting records from JSON payloads.
	Query string
	// Member picks the archive entry to parse, as a path.Match pattern.
	// Empty selects the first entry with a known extension.
	Member string
}

// Parser reads every record from r.
type Parser func(ctx context.Context, r io.Reader, opts Options) ([]Record, error)

var parsers = map[string]Parser{
	"text/csv":             parseCSV,
	"application/csv":      parseCSV,
	"application/json":     parseJSON,
	"text/json":            parseJSON,
	"application/x-ndjson": parseJSON,
	"application/ndjson":   parseJSON,
	"text/plain":           parseText,
}

// MediaTypes lists the media types Parse understands, sorted.
func MediaTypes() []string {
	types := make([]string, 0, len(parsers))
	for mt := range parsers {
		types = append(types, mt)
	}
	sort.Strings(types)
	return types
}

// Lookup returns the parser for mediaType. Parameters such as charset are
// ignored. An empty or unknown media type is a configuration error.
func Lookup(mediaType string) (Parser, error) {
	mt, _, _ := strings.Cut(mediaType, ";")
	mt = strings.ToLower(strings.TrimSpace(mt))
	if mt == "" {
		return nil, common.NewConfigError(MediaTypeSetting, "missing media type, set one explicitly")
	}
	p, ok := parsers[mt]
	if !ok {
		return nil, common.NewConfigError(MediaTypeSetting, "unsupported media type %q", mt)
	}
	return p, nil
}

// Parse reads r with the parser registered for mediaType.
func Parse(ctx context.Context, mediaType string, r io.Reader, opts Options) ([]Record, error) {
	p, err := Lookup(mediaType)
	if err != nil {
		return nil, err
	}
	return p(ctx, r, opts)
}

// Lines renders records as CSV lines without terminators.
func Lines(records []Record) ([]string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	lines := make([]string, 0, len(records))
	for i, rec := range records {
		sb.Reset()
		if err := w.Write(rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		lines = append(lines, strings.TrimSuffix(sb.String(), "\n"))
	}
	return lines, nil
}
