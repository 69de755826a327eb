package sandboxes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/reusee/studyboard/archives"
	"github.com/reusee/studyboard/transports"
	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

const (
	markerStudy     = "study"
	markerDirectory = "directory"
)

// builtins returns the names predeclared for every script.
func (r *Runtime) builtins() starlark.StringDict {
	return starlark.StringDict{
		"study":      starlark.NewBuiltin("study", builtinStudy),
		"directory":  starlark.NewBuiltin("directory", builtinDirectory),
		"arg_string": starlark.NewBuiltin("arg_string", builtinArg("string")),
		"arg_int":    starlark.NewBuiltin("arg_int", builtinArg("int")),
		"arg_float":  starlark.NewBuiltin("arg_float", builtinArg("float")),
		"arg_enum":   starlark.NewBuiltin("arg_enum", builtinArgEnum),
		"log":        starlark.NewBuiltin("log", r.builtinLog),
		"struct":     starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":       starlarkjson.Module,
		"math":       starlarkmath.Module,
	}
}

func builtinStudy(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		description starlark.String
		argSpecs    starlark.Value = starlark.NewDict(0)
		autorun     starlark.Value = starlark.String("never")
		validate    starlark.Value = starlark.None
		start       starlark.Value = starlark.None
		message     starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"description?", &description,
		"args?", &argSpecs,
		"autorun?", &autorun,
		"validate?", &validate,
		"start?", &start,
		"message?", &message,
	); err != nil {
		return nil, err
	}
	return starlarkstruct.FromStringDict(starlark.String(markerStudy), starlark.StringDict{
		"kind":        starlark.String(markerStudy),
		"description": description,
		"args":        argSpecs,
		"autorun":     autorun,
		"validate":    validate,
		"start":       start,
		"message":     message,
	}), nil
}

// builtinDirectory accepts a dict of children or children as keywords.
func builtinDirectory(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	children := starlark.NewDict(len(kwargs))
	switch len(args) {
	case 0:
	case 1:
		d, ok := args[0].(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("%s: want dict, got %s", fn.Name(), args[0].Type())
		}
		for _, item := range d.Items() {
			if err := children.SetKey(item[0], item[1]); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("%s: got %d positional arguments, want at most 1", fn.Name(), len(args))
	}
	for _, kv := range kwargs {
		if err := children.SetKey(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	return starlarkstruct.FromStringDict(starlark.String(markerDirectory), starlark.StringDict{
		"kind":     starlark.String(markerDirectory),
		"children": children,
	}), nil
}

func builtinArg(typ string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var def starlark.Value = starlark.None
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "default?", &def); err != nil {
			return nil, err
		}
		return starlarkstruct.FromStringDict(starlark.String("arg"), starlark.StringDict{
			"type":    starlark.String(typ),
			"default": def,
		}), nil
	}
}

func builtinArgEnum(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values *starlark.List
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "values", &values, "default?", &def); err != nil {
		return nil, err
	}
	return starlarkstruct.FromStringDict(starlark.String("arg"), starlark.StringDict{
		"type":    starlark.String("enum"),
		"values":  values,
		"default": def,
	}), nil
}

func (r *Runtime) builtinLog(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if s, ok := starlark.AsString(arg); ok {
			parts = append(parts, s)
		} else {
			parts = append(parts, arg.String())
		}
	}
	attrs := make([]any, 0, len(kwargs)*2+2)
	attrs = append(attrs, "thread", thread.Name)
	for _, kv := range kwargs {
		attrs = append(attrs, keyString(kv[0]), fromStarlarkValue(kv[1]))
	}
	r.logger.Info("script: "+strings.Join(parts, " "), attrs...)
	return starlark.None, nil
}

// archiveValue exposes read access to the loaded archive.
func archiveValue(archive *archives.Archive) starlark.Value {
	lookup := func(p string) (archives.Entry, error) {
		return archive.Root().Lookup(p)
	}

	pathArg := func(fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple, optional bool) (string, error) {
		var p string
		name := "path"
		if optional {
			name = "path?"
		}
		err := starlark.UnpackArgs(fn.Name(), args, kwargs, name, &p)
		return p, err
	}

	return starlarkstruct.FromStringDict(starlark.String("archive"), starlark.StringDict{
		"name": starlark.String(archive.Name()),

		"keys": starlark.NewBuiltin("keys", func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			p, err := pathArg(fn, args, kwargs, true)
			if err != nil {
				return nil, err
			}
			entry, err := lookup(p)
			if err != nil {
				return nil, err
			}
			group, ok := entry.(*archives.Group)
			if !ok {
				return nil, fmt.Errorf("%s: %w", p, archives.ErrNotGroup)
			}
			keys, err := group.Keys()
			if err != nil {
				return nil, err
			}
			return toStarlarkValue(keys), nil
		}),

		"read": starlark.NewBuiltin("read", func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			data, err := readDataset(fn, args, kwargs, pathArg, lookup)
			if err != nil {
				return nil, err
			}
			return starlark.Bytes(data), nil
		}),

		"read_text": starlark.NewBuiltin("read_text", func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			data, err := readDataset(fn, args, kwargs, pathArg, lookup)
			if err != nil {
				return nil, err
			}
			return starlark.String(strings.ToValidUTF8(string(data), "\uFFFD")), nil
		}),

		"is_group": starlark.NewBuiltin("is_group", func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			p, err := pathArg(fn, args, kwargs, false)
			if err != nil {
				return nil, err
			}
			entry, err := lookup(p)
			if err != nil {
				return starlark.False, nil
			}
			_, ok := entry.(*archives.Group)
			return starlark.Bool(ok), nil
		}),

		"exists": starlark.NewBuiltin("exists", func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			p, err := pathArg(fn, args, kwargs, false)
			if err != nil {
				return nil, err
			}
			_, err = lookup(p)
			if errors.Is(err, archives.ErrNotFound) || errors.Is(err, archives.ErrNotGroup) {
				return starlark.False, nil
			} else if err != nil {
				return nil, err
			}
			return starlark.True, nil
		}),
	})
}

func readDataset(
	fn *starlark.Builtin,
	args starlark.Tuple,
	kwargs []starlark.Tuple,
	pathArg func(*starlark.Builtin, starlark.Tuple, []starlark.Tuple, bool) (string, error),
	lookup func(string) (archives.Entry, error),
) ([]byte, error) {
	p, err := pathArg(fn, args, kwargs, false)
	if err != nil {
		return nil, err
	}
	entry, err := lookup(p)
	if err != nil {
		return nil, err
	}
	dataset, ok := entry.(*archives.Dataset)
	if !ok {
		return nil, fmt.Errorf("%s: not a dataset", p)
	}
	return dataset.Bytes()
}

// pushBuiltin sends push notifications tagged with the study and state.
func pushBuiltin(ctx context.Context, push transports.Pusher, studyID, stateID string) starlark.Value {
	return starlark.NewBuiltin("push", func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var data starlark.Value = starlark.None
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "data?", &data); err != nil {
			return nil, err
		}
		if push == nil {
			return starlark.None, nil
		}
		if err := push(ctx, studyID, stateID, fromStarlarkValue(data)); err != nil {
			return nil, err
		}
		return starlark.None, nil
	})
}
