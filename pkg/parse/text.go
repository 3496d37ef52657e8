package parse

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

const maxLine = 16 << 20

func parseText(ctx context.Context, r io.Reader, _ Options) ([]Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)

	var records []Record
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		records = append(records, Record{line})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parse text: %w", err)
	}
	return records, nil
}
