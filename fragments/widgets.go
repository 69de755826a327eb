package fragments

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// widgets are the components available to fragments besides plain elements.
func (i *Instance) widgets() map[string]any {
	return map[string]any{
		"Button":    i.button,
		"TextInput": i.textInput,
		"Select":    i.selectWidget,
		"Table":     i.table,
		"Plot":      i.plot,
	}
}

func propsOf(vm *goja.Runtime, call goja.FunctionCall) *goja.Object {
	v := call.Argument(0)
	if isNothing(v) {
		return vm.NewObject()
	}
	return v.ToObject(vm)
}

func propString(props *goja.Object, key string) string {
	v := props.Get(key)
	if isNothing(v) {
		return ""
	}
	return v.String()
}

// valueHandler adapts a handler taking a value to the change event of an
// input.
func (i *Instance) valueHandler(props *goja.Object) any {
	fn, ok := goja.AssertFunction(props.Get("onChange"))
	if !ok {
		return nil
	}
	return func(call goja.FunctionCall) goja.Value {
		value := goja.Undefined()
		if event, ok := call.Argument(0).(*goja.Object); ok {
			if target, ok := event.Get("target").(*goja.Object); ok {
				value = target.Get("value")
			}
		}
		ret, err := fn(goja.Undefined(), value)
		if err != nil {
			panic(err)
		}
		return ret
	}
}

// Button({label, onClick, disabled})
func (i *Instance) button(call goja.FunctionCall) goja.Value {
	props := propsOf(i.vm, call)
	attrs := map[string]any{
		"type":  "button",
		"class": "widget-button",
	}
	if onClick := props.Get("onClick"); !isNothing(onClick) {
		attrs["onClick"] = onClick
	}
	if disabled := props.Get("disabled"); !isNothing(disabled) {
		attrs["disabled"] = disabled.ToBoolean()
	}
	content := props.Get("children")
	if label := props.Get("label"); !isNothing(label) {
		content = label
	}
	return i.h("button", attrs, content)
}

// TextInput({label, value, onChange(value), placeholder})
func (i *Instance) textInput(call goja.FunctionCall) goja.Value {
	props := propsOf(i.vm, call)
	attrs := map[string]any{
		"type":  "text",
		"class": "widget-text-input",
		"value": propString(props, "value"),
	}
	if placeholder := propString(props, "placeholder"); placeholder != "" {
		attrs["placeholder"] = placeholder
	}
	if fn := i.valueHandler(props); fn != nil {
		attrs["onChange"] = fn
	}
	input := i.h("input", attrs)
	label := propString(props, "label")
	if label == "" {
		return input
	}
	return i.h("label", nil, i.text(label), input)
}

// Select({label, value, options, onChange(value)}), options are strings or
// {value, label} objects.
func (i *Instance) selectWidget(call goja.FunctionCall) goja.Value {
	props := propsOf(i.vm, call)
	current := propString(props, "value")
	items, _ := arrayItems(i.vm, props.Get("options"))
	options := make([]goja.Value, 0, len(items))
	for _, item := range items {
		value, label := item.String(), item.String()
		if obj, ok := item.(*goja.Object); ok {
			value = propString(obj, "value")
			label = firstNonEmpty(propString(obj, "label"), value)
		}
		attrs := map[string]any{
			"value": value,
		}
		if value == current {
			attrs["selected"] = true
		}
		options = append(options, i.h("option", attrs, i.text(label)))
	}
	attrs := map[string]any{
		"class": "widget-select",
	}
	if fn := i.valueHandler(props); fn != nil {
		attrs["onChange"] = fn
	}
	sel := i.h("select", attrs, i.vm.NewArray(toAnySlice(options)...))
	label := propString(props, "label")
	if label == "" {
		return sel
	}
	return i.h("label", nil, i.text(label), sel)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func toAnySlice(values []goja.Value) []any {
	ret := make([]any, len(values))
	for idx, v := range values {
		ret[idx] = v
	}
	return ret
}

// Table({columns, rows}), rows are arrays or objects. Columns default to the
// keys of the first object row.
func (i *Instance) table(call goja.FunctionCall) goja.Value {
	props := propsOf(i.vm, call)
	rows, _ := arrayItems(i.vm, props.Get("rows"))

	var columns []string
	if items, ok := arrayItems(i.vm, props.Get("columns")); ok {
		for _, item := range items {
			columns = append(columns, item.String())
		}
	} else if len(rows) > 0 {
		if obj, ok := rows[0].(*goja.Object); ok && obj.ClassName() != "Array" {
			columns = obj.Keys()
		}
	}

	var head []goja.Value
	for _, column := range columns {
		head = append(head, i.h("th", nil, i.text(column)))
	}

	var body []goja.Value
	for _, row := range rows {
		var cells []goja.Value
		if items, ok := arrayItems(i.vm, row); ok {
			for _, item := range items {
				cells = append(cells, i.h("td", nil, cellValue(item)))
			}
		} else if obj, ok := row.(*goja.Object); ok {
			for _, column := range columns {
				cells = append(cells, i.h("td", nil, cellValue(obj.Get(column))))
			}
		}
		body = append(body, i.h("tr", nil, i.vm.NewArray(toAnySlice(cells)...)))
	}

	var children []goja.Value
	if len(head) > 0 {
		children = append(children, i.h("thead", nil,
			i.h("tr", nil, i.vm.NewArray(toAnySlice(head)...)),
		))
	}
	children = append(children, i.h("tbody", nil, i.vm.NewArray(toAnySlice(body)...)))
	return i.h("table", map[string]any{
		"class": "widget-table",
	}, children...)
}

func cellValue(v goja.Value) goja.Value {
	if isNothing(v) {
		return goja.Undefined()
	}
	if _, ok := v.(*goja.Object); ok {
		return nil
	}
	return v
}

type series struct {
	label string
	x, y  []float64
}

// Plot({series: [{x, y, label}], title, width, height}), or x and y
// directly for a single series. Draws lines as inline SVG.
func (i *Instance) plot(call goja.FunctionCall) goja.Value {
	props := propsOf(i.vm, call)
	width := numberProp(props, "width", 320)
	height := numberProp(props, "height", 200)

	var all []series
	if items, ok := arrayItems(i.vm, props.Get("series")); ok {
		for _, item := range items {
			if obj, ok := item.(*goja.Object); ok {
				all = append(all, i.series(obj))
			}
		}
	} else {
		all = append(all, i.series(props))
	}

	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, s := range all {
		for idx := range s.y {
			minX, maxX = math.Min(minX, s.x[idx]), math.Max(maxX, s.x[idx])
			minY, maxY = math.Min(minY, s.y[idx]), math.Max(maxY, s.y[idx])
		}
	}
	if maxX <= minX {
		minX, maxX = minX-1, minX+1
	}
	if maxY <= minY {
		minY, maxY = minY-1, minY+1
	}

	const pad = 8.0
	var lines []goja.Value
	for idx, s := range all {
		points := make([]string, 0, len(s.y))
		for j := range s.y {
			px := pad + (s.x[j]-minX)/(maxX-minX)*(width-2*pad)
			py := height - pad - (s.y[j]-minY)/(maxY-minY)*(height-2*pad)
			points = append(points, formatFloat(px)+","+formatFloat(py))
		}
		attrs := map[string]any{
			"points": strings.Join(points, " "),
			"fill":   "none",
			"class":  fmt.Sprintf("series series-%d", idx),
		}
		var title []goja.Value
		if s.label != "" {
			title = append(title, i.h("title", nil, i.text(s.label)))
		}
		lines = append(lines, i.h("polyline", attrs, title...))
	}

	children := []goja.Value{}
	if t := propString(props, "title"); t != "" {
		children = append(children, i.h("title", nil, i.text(t)))
	}
	children = append(children, lines...)
	return i.h("svg", map[string]any{
		"class":   "widget-plot",
		"width":   formatFloat(width),
		"height":  formatFloat(height),
		"viewBox": "0 0 " + formatFloat(width) + " " + formatFloat(height),
	}, children...)
}

func (i *Instance) series(obj *goja.Object) series {
	ys := numbers(i.vm, obj.Get("y"))
	xs := numbers(i.vm, obj.Get("x"))
	if len(xs) != len(ys) {
		xs = make([]float64, len(ys))
		for idx := range xs {
			xs[idx] = float64(idx)
		}
	}
	return series{
		label: propString(obj, "label"),
		x:     xs,
		y:     ys,
	}
}

func numbers(vm *goja.Runtime, v goja.Value) []float64 {
	items, _ := arrayItems(vm, v)
	ret := make([]float64, 0, len(items))
	for _, item := range items {
		f := item.ToFloat()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		ret = append(ret, f)
	}
	return ret
}

func numberProp(props *goja.Object, key string, def float64) float64 {
	v := props.Get(key)
	if isNothing(v) {
		return def
	}
	f := v.ToFloat()
	if math.IsNaN(f) || f <= 0 {
		return def
	}
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
