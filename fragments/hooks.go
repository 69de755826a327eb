package fragments

import (
	"github.com/dop251/goja"
)

// mounted holds the hook slots of one component position.
type mounted struct {
	fn    goja.Value
	slots []any
	seen  bool
}

type stateSlot struct {
	value goja.Value
}

type effectSlot struct {
	deps    []goja.Value
	hasDeps bool
	cleanup goja.Callable
}

type refSlot struct {
	ref *goja.Object
}

type pendingEffect struct {
	slot *effectSlot
	fn   goja.Callable
}

// frame is the component being called.
type frame struct {
	component *mounted
	index     int
}

func (i *Instance) slot(name string) (*mounted, int, bool) {
	if i.frame == nil {
		panic(i.vm.NewTypeError("%s called outside a component", name))
	}
	f := i.frame
	idx := f.index
	f.index++
	return f.component, idx, idx < len(f.component.slots)
}

func (i *Instance) useState(call goja.FunctionCall) goja.Value {
	comp, idx, exists := i.slot("useState")
	var s *stateSlot
	if exists {
		var ok bool
		s, ok = comp.slots[idx].(*stateSlot)
		if !ok {
			panic(i.vm.NewTypeError("hook order changed between renders"))
		}
	} else {
		initial := call.Argument(0)
		if fn, ok := goja.AssertFunction(initial); ok {
			v, err := fn(goja.Undefined())
			if err != nil {
				panic(err)
			}
			initial = v
		}
		s = &stateSlot{
			value: initial,
		}
		comp.slots = append(comp.slots, s)
	}

	setter := func(call goja.FunctionCall) goja.Value {
		next := call.Argument(0)
		if fn, ok := goja.AssertFunction(next); ok {
			v, err := fn(goja.Undefined(), s.value)
			if err != nil {
				panic(err)
			}
			next = v
		}
		if next.SameAs(s.value) {
			return goja.Undefined()
		}
		s.value = next
		i.dirty = true
		return goja.Undefined()
	}
	return i.vm.NewArray(s.value, setter)
}

func (i *Instance) useEffect(call goja.FunctionCall) goja.Value {
	comp, idx, exists := i.slot("useEffect")
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(i.vm.NewTypeError("useEffect needs a function"))
	}
	var deps []goja.Value
	hasDeps := false
	if items, ok := arrayItems(i.vm, call.Argument(1)); ok {
		deps = items
		hasDeps = true
	}

	var e *effectSlot
	if exists {
		e, ok = comp.slots[idx].(*effectSlot)
		if !ok {
			panic(i.vm.NewTypeError("hook order changed between renders"))
		}
		if e.hasDeps && hasDeps && sameDeps(e.deps, deps) {
			return goja.Undefined()
		}
	} else {
		e = new(effectSlot)
		comp.slots = append(comp.slots, e)
	}
	e.deps = deps
	e.hasDeps = hasDeps
	i.effects = append(i.effects, pendingEffect{
		slot: e,
		fn:   fn,
	})
	return goja.Undefined()
}

func sameDeps(a, b []goja.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for idx := range a {
		if !a[idx].SameAs(b[idx]) {
			return false
		}
	}
	return true
}

func (i *Instance) useRef(call goja.FunctionCall) goja.Value {
	comp, idx, exists := i.slot("useRef")
	if exists {
		r, ok := comp.slots[idx].(*refSlot)
		if !ok {
			panic(i.vm.NewTypeError("hook order changed between renders"))
		}
		return r.ref
	}
	ref := i.vm.NewObject()
	ref.Set("current", call.Argument(0))
	comp.slots = append(comp.slots, &refSlot{
		ref: ref,
	})
	return ref
}

// runEffects calls the effects scheduled by the last render, each after the
// cleanup of its previous run.
func (i *Instance) runEffects() error {
	effects := i.effects
	i.effects = nil
	for _, effect := range effects {
		if effect.slot.cleanup != nil {
			cleanup := effect.slot.cleanup
			effect.slot.cleanup = nil
			if _, err := cleanup(goja.Undefined()); err != nil {
				return err
			}
		}
		ret, err := effect.fn(goja.Undefined())
		if err != nil {
			return err
		}
		if fn, ok := goja.AssertFunction(ret); ok {
			effect.slot.cleanup = fn
		}
	}
	return nil
}

// unmount runs the cleanups of a component that is no longer rendered.
func (i *Instance) unmount(comp *mounted) {
	for _, slot := range comp.slots {
		e, ok := slot.(*effectSlot)
		if !ok || e.cleanup == nil {
			continue
		}
		if _, err := e.cleanup(goja.Undefined()); err != nil {
			i.logger.Warn("effect cleanup failed", "error", jsMessage(err))
		}
		e.cleanup = nil
	}
}
