package fragments

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"
	"github.com/reusee/studyboard/boardconfigs"
	"github.com/reusee/studyboard/logs"
	"github.com/reusee/studyboard/observers"
	"go.opentelemetry.io/otel/metric"
)

// bindings are the only free variables of a fragment body, in wrapper
// parameter order.
var bindings = []string{
	"module", "exports",
	"React", "useState", "useEffect", "useRef",
	"Button", "TextInput", "Select", "Table", "Plot",
}

// Loader compiles and evaluates fragments. Every load is fresh.
type Loader struct {
	compiler Compiler
	timeout  time.Duration
	logger   logs.Logger
	inst     *observers.Instruments
}

func (Module) Loader(
	timeout boardconfigs.FragmentTimeout,
	logger logs.Logger,
	inst *observers.Instruments,
) *Loader {
	return &Loader{
		compiler: ESBuild{},
		timeout:  time.Duration(timeout),
		logger:   logger,
		inst:     inst,
	}
}

func wrapperSource(body string) string {
	params := ""
	for idx, name := range bindings {
		if idx > 0 {
			params += ", "
		}
		params += name
	}
	return "(function(" + params + ") {\n" + body + "\n})"
}

// Load compiles source and renders its default export with props.
func (l *Loader) Load(ctx context.Context, source string, props Props) (_ *Instance, err error) {
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			var fragmentErr *Error
			if errors.As(err, &fragmentErr) {
				status = string(fragmentErr.Stage)
			}
		}
		l.inst.Fragments.Add(ctx, 1, metric.WithAttributes(
			observers.AttrStatus.String(status),
			observers.AttrStudyID.String(props.StudyID),
		))
	}()

	body, err := l.compiler.Compile(source)
	if err != nil {
		return nil, stageError(StageCompile, err)
	}
	if err := checkImports(body); err != nil {
		return nil, err
	}

	i := newInstance(l.logger, l.timeout, props)
	defer func() {
		if err != nil {
			i.Close()
		}
	}()

	i.lock.Lock()
	defer i.lock.Unlock()

	module := i.vm.NewObject()
	exports := i.vm.NewObject()
	module.Set("exports", exports)
	react := i.newReact()
	args := []goja.Value{
		module,
		exports,
		react,
		react.Get("useState"),
		react.Get("useEffect"),
		react.Get("useRef"),
	}
	widgets := i.widgets()
	for _, name := range bindings[len(args):] {
		args = append(args, i.vm.ToValue(widgets[name]))
	}

	if err := i.guard(ctx, func() error {
		wrapper, err := i.vm.RunScript("fragment.js", wrapperSource(body))
		if err != nil {
			return err
		}
		fn, ok := goja.AssertFunction(wrapper)
		if !ok {
			return errors.New("fragment wrapper is not callable")
		}
		_, err = fn(goja.Undefined(), args...)
		return err
	}); err != nil {
		return nil, stageError(StageEvaluate, err)
	}

	component := defaultExport(i.vm, module)
	if _, ok := goja.AssertFunction(component); !ok {
		return nil, &Error{
			Stage:   StageShape,
			Message: "default export is " + describe(component) + ", not a component",
		}
	}
	i.component = component
	i.setRootProps()

	if err := i.guard(ctx, i.update); err != nil {
		return nil, stageError(StageRender, err)
	}

	go i.deliverLoop()

	l.logger.Debug("fragment loaded",
		"study", props.StudyID,
		"state", props.StateID,
		"bytes", len(body),
	)
	return i, nil
}

func defaultExport(vm *goja.Runtime, module *goja.Object) goja.Value {
	exports := module.Get("exports")
	if isNothing(exports) {
		return exports
	}
	if _, ok := goja.AssertFunction(exports); ok {
		return exports
	}
	return exports.ToObject(vm).Get("default")
}

func describe(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	switch v.Export().(type) {
	case string:
		return "a string"
	case int64, float64:
		return "a number"
	case bool:
		return "a boolean"
	}
	return "an object"
}
