package sandboxes

import (
	"context"
	"fmt"

	"github.com/reusee/studyboard/mirrors"
	"github.com/reusee/studyboard/studies"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// discover executes the entry point afresh and rebuilds the study registry
// from what its hierarchy function returns.
func (r *Runtime) discover(ctx context.Context) (studies.Hierarchy, error) {
	if _, err := r.mount(ctx); err != nil {
		return nil, err
	}

	loader := r.newLoader(ctx)
	thread, stop := r.newThread(ctx, "hierarchy", loader)
	defer stop()

	globals, err := loader.Load(thread, mirrors.EntryPoint)
	if err != nil {
		return nil, err
	}
	fn, ok := globals["hierarchy"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s: hierarchy function not defined", mirrors.EntryPoint)
	}
	var args starlark.Tuple
	if f, ok := fn.(*starlark.Function); ok && f.NumParams() > 0 {
		args = starlark.Tuple{archiveValue(r.archive)}
	}
	raw, err := starlark.Call(thread, fn, args, nil)
	if err != nil {
		return nil, scriptError(err)
	}

	registry := newStudyRegistry()
	children, ok := childrenOf(raw)
	if !ok {
		return nil, fmt.Errorf("hierarchy() returned %s, want dict", raw.Type())
	}
	nodes, err := r.walk(ctx, children, nil, registry)
	if err != nil {
		return nil, err
	}
	r.studies = registry

	return nodes, nil
}

func (r *Runtime) walk(ctx context.Context, children *starlark.Dict, parents []string, registry *studyRegistry) (studies.Hierarchy, error) {
	nodes := studies.Hierarchy{}
	for _, item := range children.Items() {
		name := keyString(item[0])
		value := item[1]
		path := append(parents[:len(parents):len(parents)], name)

		switch markerOf(value) {

		case markerStudy:
			node, entry := studyNode(name, path, value)
			registry.entries[entry.id] = entry
			nodes = append(nodes, node)

		default:
			sub, ok := childrenOf(value)
			if !ok {
				r.logger.DebugContext(ctx, "skip hierarchy entry",
					"path", studies.StudyID(path),
					"type", value.Type(),
				)
				continue
			}
			subNodes, err := r.walk(ctx, sub, path, registry)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &studies.Node{
				Kind:     studies.KindDirectory,
				Name:     name,
				Children: subNodes,
			})

		}
	}
	return nodes, nil
}

func studyNode(name string, path []string, value starlark.Value) (*studies.Node, *studyEntry) {
	id := studies.StudyID(path)

	var schema studies.Schema
	if specs, ok := field(value, "args").(*starlark.Dict); ok {
		for _, item := range specs.Items() {
			schema = append(schema, studies.Field{
				Name:    keyString(item[0]),
				ArgSpec: studies.NormalizeArgSpec(fromStarlarkValue(item[1])),
			})
		}
	}

	description := ""
	if v := field(value, "description"); v != nil && v != starlark.None {
		if s, ok := starlark.AsString(v); ok {
			description = s
		} else {
			description = v.String()
		}
	}

	entry := &studyEntry{
		id:     id,
		schema: schema,
	}
	if fn, ok := field(value, "validate").(starlark.Callable); ok {
		entry.validate = fn
		entry.caps |= CanValidate
	}
	if fn, ok := field(value, "start").(starlark.Callable); ok {
		entry.start = fn
		entry.caps |= CanStart
	}
	if fn, ok := field(value, "message").(starlark.Callable); ok {
		entry.message = fn
		entry.caps |= CanMessage
	}

	var autorun any
	if v := field(value, "autorun"); v != nil {
		autorun = fromStarlarkValue(v)
	}

	return &studies.Node{
		Kind:        studies.KindStudy,
		Name:        name,
		ID:          id,
		Description: description,
		Args:        schema,
		AutoRun:     studies.ParseAutoRun(autorun),
	}, entry
}

// field reads an attribute of a struct or a string key of a dict.
func field(value starlark.Value, name string) starlark.Value {
	switch value := value.(type) {
	case *starlarkstruct.Struct:
		v, err := value.Attr(name)
		if err != nil {
			return nil
		}
		return v
	case *starlark.Dict:
		v, found, err := value.Get(starlark.String(name))
		if err != nil || !found {
			return nil
		}
		return v
	}
	return nil
}

func markerOf(value starlark.Value) string {
	v := field(value, "kind")
	if v == nil {
		return ""
	}
	s, _ := starlark.AsString(v)
	switch s {
	case markerStudy, markerDirectory:
		return s
	}
	return ""
}

// childrenOf returns the children of an explicit or implicit directory.
func childrenOf(value starlark.Value) (*starlark.Dict, bool) {
	if markerOf(value) == markerDirectory {
		children, ok := field(value, "children").(*starlark.Dict)
		if !ok {
			return starlark.NewDict(0), true
		}
		return children, true
	}
	if d, ok := value.(*starlark.Dict); ok && markerOf(value) == "" {
		return d, true
	}
	return nil, false
}
