package sandboxes

import (
	"context"
	"maps"

	"go.starlark.net/starlark"
)

// run evaluates code with bindings visible as globals for this call only.
// A single expression yields its value, statements yield the global named
// result. Other globals the code defines persist in the session.
func (r *Runtime) run(ctx context.Context, code string, bindings map[string]any) (any, error) {
	env := r.builtins()
	maps.Copy(env, r.globals)
	// bindings live in env only, shadowed session globals are left as they are
	for name, value := range bindings {
		env[name] = toStarlarkValue(value)
	}

	thread, stop := r.newThread(ctx, "run", r.newLoader(ctx))
	defer stop()

	if expr, err := scriptOptions.ParseExpr("<run>", code, 0); err == nil {
		value, err := starlark.EvalExprOptions(scriptOptions, thread, expr, env)
		if err != nil {
			return nil, scriptError(err)
		}
		return fromStarlarkValue(value), nil
	}

	globals, err := starlark.ExecFileOptions(scriptOptions, thread, "<run>", code, env)
	if err != nil {
		return nil, scriptError(err)
	}
	for name, value := range globals {
		if _, ok := bindings[name]; ok {
			continue
		}
		r.globals[name] = value
	}
	if value, ok := globals["result"]; ok {
		return fromStarlarkValue(value), nil
	}
	return nil, nil
}
