package sandboxes

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"path"

	"github.com/reusee/studyboard/mirrors"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

var scriptOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// ScriptError is a Starlark runtime error. Its trace is the backtrace.
type ScriptError struct {
	Err *starlark.EvalError
}

func (s *ScriptError) Error() string {
	return s.Err.Msg
}

func (s *ScriptError) Trace() string {
	return s.Err.Backtrace()
}

func (s *ScriptError) Unwrap() error {
	return s.Err
}

func scriptError(err error) error {
	if err == nil {
		return nil
	}
	var scriptErr *ScriptError
	if errors.As(err, &scriptErr) {
		return err
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return &ScriptError{
			Err: evalErr,
		}
	}
	return err
}

func (r *Runtime) newThread(ctx context.Context, name string, loader *moduleLoader) (*starlark.Thread, func()) {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			r.logger.InfoContext(ctx, "script print",
				"thread", name,
				"message", msg,
			)
		},
	}
	if loader != nil {
		thread.Load = loader.Load
	}
	if r.maxSteps > 0 {
		thread.SetMaxExecutionSteps(r.maxSteps)
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	return thread, func() {
		stop()
	}
}

// moduleLoader resolves load() inside the mirror root. Every loader starts
// with an empty module cache so edited files are always re-executed.
type moduleLoader struct {
	r       *Runtime
	ctx     context.Context
	modules map[string]*loadedModule
}

type loadedModule struct {
	globals starlark.StringDict
	err     error
}

func (r *Runtime) newLoader(ctx context.Context) *moduleLoader {
	return &moduleLoader{
		r:       r,
		ctx:     ctx,
		modules: make(map[string]*loadedModule),
	}
}

func (l *moduleLoader) Load(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	rel := path.Join(mirrors.RelPath(l.r.mirror.Root), mirrors.RelPath(module))
	if loaded, ok := l.modules[rel]; ok {
		if loaded == nil {
			return nil, fmt.Errorf("cycle in load graph: %s", module)
		}
		return loaded.globals, loaded.err
	}
	l.modules[rel] = nil

	thread, stop := l.r.newThread(l.ctx, "load "+module, l)
	defer stop()
	globals, err := l.exec(thread, rel)
	l.modules[rel] = &loadedModule{
		globals: globals,
		err:     err,
	}
	return globals, err
}

func (l *moduleLoader) exec(thread *starlark.Thread, rel string) (starlark.StringDict, error) {
	src, err := l.r.fs.ReadFile(rel)
	if err != nil {
		return nil, err
	}
	builtins := l.r.builtins()
	prog, err := l.program(rel, src, builtins)
	if err != nil {
		return nil, err
	}
	globals, err := prog.Init(thread, builtins)
	if err != nil {
		return nil, scriptError(err)
	}
	globals.Freeze()
	return globals, nil
}

// program compiles src, reusing the compiled form cached next to the file
// when the source is unchanged.
func (l *moduleLoader) program(rel string, src []byte, builtins starlark.StringDict) (*starlark.Program, error) {
	cachePath := path.Join(path.Dir(rel), mirrors.CacheDir, path.Base(rel)+"c")
	sum := sha256.Sum256(src)

	if data, err := l.r.fs.ReadFile(cachePath); err == nil &&
		len(data) > len(sum) &&
		bytes.Equal(data[:len(sum)], sum[:]) {
		if prog, err := starlark.CompiledProgram(bytes.NewReader(data[len(sum):])); err == nil {
			return prog, nil
		}
	}

	_, prog, err := starlark.SourceProgramOptions(
		scriptOptions,
		mirrors.AbsPath(rel),
		src,
		builtins.Has,
	)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(sum[:])
	if err := prog.Write(&buf); err == nil {
		if err := l.r.fs.MkdirAll(path.Dir(cachePath), 0o755); err == nil {
			if err := l.r.fs.WriteFile(cachePath, buf.Bytes(), 0o644); err != nil {
				l.r.logger.DebugContext(l.ctx, "write compiled module", "error", err)
			}
		}
	}

	return prog, nil
}
