package fragments

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/dop251/goja"
)

// plain replaces json.Number with int64 or float64 so scripts see numbers.
func plain(v any) any {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any:
		ret := make(map[string]any, len(v))
		for k, e := range v {
			ret[k] = plain(e)
		}
		return ret
	case []any:
		ret := make([]any, len(v))
		for i, e := range v {
			ret[i] = plain(e)
		}
		return ret
	}
	return v
}

func isNothing(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func jsMessage(err error) string {
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return exception.String()
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return interrupted.String()
	}
	return err.Error()
}

// arrayItems returns the elements of an array like value.
func arrayItems(vm *goja.Runtime, v goja.Value) ([]goja.Value, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	if obj.ClassName() != "Array" {
		return nil, false
	}
	n := int(obj.Get("length").ToInteger())
	ret := make([]goja.Value, 0, n)
	for i := range n {
		ret = append(ret, obj.Get(strconv.Itoa(i)))
	}
	return ret, true
}
