package fragments

import (
	"github.com/dop251/goja"
)

// element is what React.createElement returns. typ is a tag name string, a
// component function or the fragment marker.
type element struct {
	typ      goja.Value
	props    *goja.Object
	children []goja.Value
}

type fragmentMarker struct{}

func (i *Instance) newReact() *goja.Object {
	vm := i.vm
	react := vm.NewObject()
	i.fragmentType = vm.ToValue(&fragmentMarker{})
	react.Set("Fragment", i.fragmentType)
	react.Set("createElement", i.createElement)
	react.Set("useState", i.useState)
	react.Set("useEffect", i.useEffect)
	react.Set("useRef", i.useRef)
	return react
}

func (i *Instance) createElement(call goja.FunctionCall) goja.Value {
	typ := call.Argument(0)
	if isNothing(typ) {
		panic(i.vm.NewTypeError("createElement: element type is %s", typ))
	}
	el := &element{
		typ: typ,
	}
	if props := call.Argument(1); !isNothing(props) {
		el.props = props.ToObject(i.vm)
	}
	if len(call.Arguments) > 2 {
		el.children = append(el.children, call.Arguments[2:]...)
	}
	return i.vm.ToValue(el)
}

// h builds an element from Go.
func (i *Instance) h(tag string, props map[string]any, children ...goja.Value) goja.Value {
	var obj *goja.Object
	if len(props) > 0 {
		obj = i.vm.NewObject()
		for k, v := range props {
			obj.Set(k, v)
		}
	}
	return i.vm.ToValue(&element{
		typ:      i.vm.ToValue(tag),
		props:    obj,
		children: children,
	})
}

func (i *Instance) text(s string) goja.Value {
	return i.vm.ToValue(s)
}

// componentProps returns the props passed to a component: a copy of the
// element props plus children.
func (i *Instance) componentProps(el *element) *goja.Object {
	props := i.vm.NewObject()
	if el.props != nil {
		for _, key := range el.props.Keys() {
			if key == "key" {
				continue
			}
			props.Set(key, el.props.Get(key))
		}
	}
	switch len(el.children) {
	case 0:
	case 1:
		props.Set("children", el.children[0])
	default:
		items := make([]any, len(el.children))
		for idx, child := range el.children {
			items[idx] = child
		}
		props.Set("children", i.vm.NewArray(items...))
	}
	return props
}
