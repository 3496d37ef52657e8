package parse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"rigcount/pkg/common"

	"github.com/itchyny/gojq"
)

// DefaultQuery emits each element of a top-level array.
const DefaultQuery = ".[]"

// parseJSON runs the query over every JSON document in r. Each query output
// becomes one record: arrays map to fields, objects to their values ordered
// by key, and anything else to a single field.
func parseJSON(ctx context.Context, r io.Reader, opts Options) ([]Record, error) {
	src := opts.Query
	if strings.TrimSpace(src) == "" {
		src = DefaultQuery
	}
	q, err := gojq.Parse(src)
	if err != nil {
		return nil, common.NewConfigError(QuerySetting, "invalid query %q: %v", src, err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, common.NewConfigError(QuerySetting, "invalid query %q: %v", src, err)
	}

	var records []Record
	dec := json.NewDecoder(r)
	for doc := 0; ; doc++ {
		var data any
		err := dec.Decode(&data)
		if errors.Is(err, io.EOF) {
			if doc == 0 {
				return nil, fmt.Errorf("parse json: no document")
			}
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}

		iter := code.RunWithContext(ctx, data)
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, ok := v.(error); ok {
				return nil, fmt.Errorf("query %q: %w", src, err)
			}
			records = append(records, toRecord(v))
		}
	}
}

func toRecord(v any) Record {
	switch x := v.(type) {
	case []any:
		rec := make(Record, len(x))
		for i, item := range x {
			rec[i] = toField(item)
		}
		return rec
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rec := make(Record, len(keys))
		for i, k := range keys {
			rec[i] = toField(x[k])
		}
		return rec
	default:
		return Record{toField(v)}
	}
}

func toField(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case *big.Int:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
