package fragments

import (
	"bytes"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"golang.org/x/net/html"
)

var tagPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*$`)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

var attrNames = map[string]string{
	"className": "class",
	"htmlFor":   "for",
}

// handler is an event listener found while rendering.
type handler struct {
	event string
	fn    goja.Callable
}

// renderTree renders the root component into a fresh container node.
func (i *Instance) renderTree() (*html.Node, error) {
	for _, comp := range i.mounted {
		comp.seen = false
	}
	i.handlers = make(map[string]handler)

	root := &html.Node{
		Type: html.ElementNode,
		Data: "div",
		Attr: []html.Attribute{
			{Key: "class", Val: "fragment"},
			{Key: "data-study", Val: i.props.StudyID},
			{Key: "data-state", Val: i.props.StateID},
		},
	}
	el := &element{
		typ:   i.component,
		props: i.rootProps,
	}
	if err := i.render(i.vm.ToValue(el), "r", root); err != nil {
		return nil, err
	}

	for path, comp := range i.mounted {
		if !comp.seen {
			i.unmount(comp)
			delete(i.mounted, path)
		}
	}
	return root, nil
}

func (i *Instance) render(v goja.Value, path string, parent *html.Node) error {
	if isNothing(v) {
		return nil
	}
	if items, ok := arrayItems(i.vm, v); ok {
		for idx, item := range items {
			if err := i.render(item, path+"."+strconv.Itoa(idx), parent); err != nil {
				return err
			}
		}
		return nil
	}

	switch exported := v.Export().(type) {

	case bool:
		return nil

	case string:
		parent.AppendChild(&html.Node{
			Type: html.TextNode,
			Data: exported,
		})
		return nil

	case int64, float64:
		parent.AppendChild(&html.Node{
			Type: html.TextNode,
			Data: v.String(),
		})
		return nil

	case *element:
		if key := elementKey(exported); key != "" {
			path = path + "$" + key
		}
		if exported.typ.SameAs(i.fragmentType) {
			return i.renderChildren(exported.children, path, parent)
		}
		if fn, ok := goja.AssertFunction(exported.typ); ok {
			return i.renderComponent(exported, fn, path, parent)
		}
		return i.renderElement(exported, path, parent)

	}

	return fmt.Errorf("cannot render %s", v.String())
}

func elementKey(el *element) string {
	if el.props == nil {
		return ""
	}
	key := el.props.Get("key")
	if isNothing(key) {
		return ""
	}
	return key.String()
}

func (i *Instance) renderChildren(children []goja.Value, path string, parent *html.Node) error {
	for idx, child := range children {
		if err := i.render(child, path+"."+strconv.Itoa(idx), parent); err != nil {
			return err
		}
	}
	return nil
}

func (i *Instance) renderComponent(el *element, fn goja.Callable, path string, parent *html.Node) error {
	comp, ok := i.mounted[path]
	if ok && !comp.fn.SameAs(el.typ) {
		// another component took the position
		i.unmount(comp)
		ok = false
	}
	if !ok {
		comp = &mounted{
			fn: el.typ,
		}
		i.mounted[path] = comp
	}
	comp.seen = true

	saved := i.frame
	i.frame = &frame{
		component: comp,
	}
	result, err := fn(goja.Undefined(), i.componentProps(el))
	i.frame = saved
	if err != nil {
		return err
	}
	return i.render(result, path+"/", parent)
}

func (i *Instance) renderElement(el *element, path string, parent *html.Node) error {
	tag, ok := el.typ.Export().(string)
	if !ok || !tagPattern.MatchString(tag) {
		return fmt.Errorf("bad element type %s", el.typ.String())
	}
	node := &html.Node{
		Type: html.ElementNode,
		Data: strings.ToLower(tag),
	}

	var children []goja.Value
	children = append(children, el.children...)
	if el.props != nil {
		keys := el.props.Keys()
		slices.Sort(keys)
		for _, key := range keys {
			value := el.props.Get(key)
			switch {

			case key == "key" || key == "ref" || key == "dangerouslySetInnerHTML":

			case key == "children":
				if len(el.children) == 0 {
					children = append(children, value)
				}

			case isEventProp(key):
				fn, ok := goja.AssertFunction(value)
				if !ok {
					continue
				}
				event := strings.ToLower(key[2:])
				id := path + ":" + event
				i.handlers[id] = handler{
					event: event,
					fn:    fn,
				}
				node.Attr = append(node.Attr, html.Attribute{
					Key: "data-on-" + event,
					Val: id,
				})

			case key == "style":
				if style := styleString(value); style != "" {
					node.Attr = append(node.Attr, html.Attribute{
						Key: "style",
						Val: style,
					})
				}

			default:
				if isNothing(value) {
					continue
				}
				name := key
				if n, ok := attrNames[key]; ok {
					name = n
				}
				if b, ok := value.Export().(bool); ok {
					if b {
						node.Attr = append(node.Attr, html.Attribute{Key: name})
					}
					continue
				}
				node.Attr = append(node.Attr, html.Attribute{
					Key: name,
					Val: value.String(),
				})

			}
		}
	}

	parent.AppendChild(node)
	if voidElements[node.Data] {
		return nil
	}
	return i.renderChildren(children, path, node)
}

func isEventProp(key string) bool {
	return len(key) > 2 &&
		strings.HasPrefix(key, "on") &&
		key[2] >= 'A' && key[2] <= 'Z'
}

func styleString(v goja.Value) string {
	if isNothing(v) {
		return ""
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	var parts []string
	for _, key := range obj.Keys() {
		value := obj.Get(key)
		if isNothing(value) {
			continue
		}
		parts = append(parts, kebab(key)+": "+value.String())
	}
	return strings.Join(parts, "; ")
}

func kebab(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			b.WriteByte('-')
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func renderHTML(node *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, node); err != nil {
		return "", err
	}
	return buf.String(), nil
}
