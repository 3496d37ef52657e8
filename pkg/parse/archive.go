package parse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"rigcount/pkg/archive"
	"rigcount/pkg/common"
)

// memberTypes maps archive member extensions to the media type they are
// parsed as.
var memberTypes = map[string]string{
	".csv":    "text/csv",
	".json":   "application/json",
	".ndjson": "application/x-ndjson",
	".jsonl":  "application/x-ndjson",
	".txt":    "text/plain",
}

func init() {
	for _, mt := range archive.MediaTypes() {
		parsers[mt] = archiveParser(mt)
	}
}

func archiveParser(mediaType string) Parser {
	return func(ctx context.Context, r io.Reader, opts Options) ([]Record, error) {
		exts := make([]string, 0, len(memberTypes))
		for ext := range memberTypes {
			exts = append(exts, ext)
		}

		m, err := archive.Open(mediaType, r, archive.Match(opts.Member, exts...))
		if errors.Is(err, archive.ErrNoMember) && opts.Member != "" {
			return nil, common.NewConfigError(MemberSetting, "no member matches %q", opts.Member)
		}
		if err != nil {
			return nil, err
		}

		inner, ok := memberTypes[strings.ToLower(path.Ext(m.Name))]
		if !ok {
			return nil, common.NewConfigError(MemberSetting, "cannot tell the media type of archive member %q", m.Name)
		}
		records, err := Parse(ctx, inner, m, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.Name, err)
		}
		return records, nil
	}
}
