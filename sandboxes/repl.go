package sandboxes

import (
	"context"
	"maps"
	"slices"

	"go.starlark.net/repl"
)

// REPL reads statements from stdin and evaluates them in the session.
// Globals it defines stay in the session.
func (r *Runtime) REPL(ctx context.Context) {
	r.sem.Acquire()
	defer r.sem.Release()

	builtins := r.builtins()
	globals := r.builtins()
	maps.Copy(globals, r.globals)
	r.logger.InfoContext(ctx, "repl",
		"globals", slices.Sorted(maps.Keys(r.globals)),
	)
	defer func() {
		r.logger.InfoContext(ctx, "repl end")
	}()

	thread, stop := r.newThread(ctx, "repl", r.newLoader(ctx))
	defer stop()
	repl.REPLOptions(scriptOptions, thread, globals)

	for name, value := range globals {
		if _, ok := builtins[name]; ok {
			continue
		}
		r.globals[name] = value
	}
}
