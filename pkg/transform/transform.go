// Package transform rewrites records with a user supplied Starlark script.
//
// The script must define a function
//
//	def transform(fields):
//	    return fields
//
// called once per record with a list of strings. It returns the rewritten
// list, a single string, or None to drop the record. The json and struct
// builtins are available.
package transform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rigcount/pkg/common"
	"rigcount/pkg/parse"

	"go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Setting is the name reported in configuration errors.
const Setting = "Transform"

// FuncName is the function a script must define.
const FuncName = "transform"

// Transform is a loaded script. Not safe for concurrent use.
type Transform struct {
	Name   string
	thread *starlark.Thread
	fn     starlark.Callable
}

// New compiles source and resolves its transform function. printFunc receives
// the output of print(); when nil it goes to stdout prefixed by name.
func New(name, source string, printFunc func(string)) (*Transform, error) {
	t := &Transform{
		Name: name,
		thread: &starlark.Thread{
			Name: name,
			Print: func(thread *starlark.Thread, msg string) {
				if printFunc != nil {
					printFunc(msg)
				} else {
					fmt.Printf("[%s] %s\n", thread.Name, msg)
				}
			},
		},
	}

	builtins := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   json.Module,
	}

	globals, err := starlark.ExecFile(t.thread, name, source, builtins)
	if err != nil {
		return nil, common.NewConfigError(Setting, "%s", mungeEvalError(name, err))
	}
	globals.Freeze()

	fn, ok := globals[FuncName].(starlark.Callable)
	if !ok {
		return nil, common.NewConfigError(Setting, "%s does not define a %s(fields) function", name, FuncName)
	}
	t.fn = fn
	return t, nil
}

// Load reads a script from path.
func Load(path string, printFunc func(string)) (*Transform, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, common.NewConfigError(Setting, "cannot read transform script: %v", err)
	}
	return New(filepath.Base(path), string(source), printFunc)
}

// Apply runs the script over records in order. A script failure aborts the
// whole batch and names the zero-based record index.
func (t *Transform) Apply(ctx context.Context, records []parse.Record) ([]parse.Record, error) {
	stop := context.AfterFunc(ctx, func() {
		t.thread.Cancel("context done")
	})
	defer stop()

	out := make([]parse.Record, 0, len(records))
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fields := make([]starlark.Value, len(rec))
		for j, f := range rec {
			fields[j] = starlark.String(f)
		}

		res, err := starlark.Call(t.thread, t.fn, starlark.Tuple{starlark.NewList(fields)}, nil)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, fmt.Errorf("transform record %d: %w", i, cerr)
			}
			return nil, fmt.Errorf("transform record %d: %w", i, mungeEvalError(t.Name, err))
		}

		rewritten, keep, err := fromStarlark(res)
		if err != nil {
			return nil, fmt.Errorf("transform record %d: %w", i, err)
		}
		if keep {
			out = append(out, rewritten)
		}
	}
	return out, nil
}

func fromStarlark(v starlark.Value) (parse.Record, bool, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, false, nil
	case starlark.String:
		return parse.Record{x.GoString()}, true, nil
	case starlark.Indexable:
		rec := make(parse.Record, x.Len())
		for i := 0; i < x.Len(); i++ {
			f, err := asField(x.Index(i))
			if err != nil {
				return nil, false, fmt.Errorf("field %d: %w", i, err)
			}
			rec[i] = f
		}
		return rec, true, nil
	default:
		return nil, false, fmt.Errorf("%s must return a list, a string or None, got %s", FuncName, v.Type())
	}
}

func asField(v starlark.Value) (string, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return "", nil
	case starlark.String:
		return x.GoString(), nil
	case starlark.Int, starlark.Float, starlark.Bool:
		return x.String(), nil
	default:
		return "", fmt.Errorf("unsupported field type %s", v.Type())
	}
}

func mungeEvalError(name string, err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return fmt.Errorf("%s: %s", name, strings.TrimSpace(evalErr.Backtrace()))
	}
	return fmt.Errorf("%s: %w", name, err)
}
