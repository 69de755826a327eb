package studies

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

type ArgType string

const (
	ArgString ArgType = "string"
	ArgInt    ArgType = "int"
	ArgFloat  ArgType = "float"
	ArgEnum   ArgType = "enum"
)

// ArgSpec describes one study argument.
type ArgSpec struct {
	Type    ArgType  `json:"type"`
	Default any      `json:"default"`
	Values  []string `json:"values,omitempty"`
}

// Field is a named ArgSpec.
type Field struct {
	Name string `json:"name"`
	ArgSpec
}

// Schema is the ordered argument list of a study.
type Schema []Field

// NormalizeArgSpec turns a raw declaration into an ArgSpec. Anything not
// recognized becomes a string argument.
func NormalizeArgSpec(raw any) ArgSpec {
	m, ok := raw.(map[string]any)
	if !ok {
		return ArgSpec{
			Type:    ArgString,
			Default: stringify(raw),
		}
	}
	def, hasDefault := m["default"]
	typ, _ := m["type"].(string)

	switch ArgType(strings.ToLower(typ)) {

	case ArgInt:
		if !hasDefault || def == nil {
			return ArgSpec{Type: ArgInt, Default: int64(0)}
		}
		n, err := coerceInt(def)
		if err != nil {
			break
		}
		return ArgSpec{Type: ArgInt, Default: n}

	case ArgFloat:
		if !hasDefault || def == nil {
			return ArgSpec{Type: ArgFloat, Default: float64(0)}
		}
		f, err := coerceFloat(def)
		if err != nil {
			break
		}
		return ArgSpec{Type: ArgFloat, Default: f}

	case ArgEnum:
		list, ok := m["values"].([]any)
		if !ok || len(list) == 0 {
			break
		}
		values := make([]string, 0, len(list))
		for _, v := range list {
			s, ok := v.(string)
			if !ok {
				values = nil
				break
			}
			values = append(values, s)
		}
		if len(values) == 0 {
			break
		}
		d := values[0]
		if hasDefault && def != nil {
			d = stringify(def)
		}
		return ArgSpec{Type: ArgEnum, Default: d, Values: values}

	}

	if !hasDefault || def == nil {
		return ArgSpec{Type: ArgString, Default: ""}
	}
	return ArgSpec{Type: ArgString, Default: stringify(def)}
}

// CoercionError reports an argument that cannot be coerced to its type.
type CoercionError struct {
	Field  string
	Value  any
	Reason string
}

func (c *CoercionError) Error() string {
	return fmt.Sprintf("argument %s: %s (got %v)", c.Field, c.Reason, c.Value)
}

// Coerce converts each field of raw, or its default when absent, to the
// declared type. Keys not in the schema are dropped.
func (s Schema) Coerce(raw map[string]any) (map[string]any, error) {
	ret := make(map[string]any, len(s))
	for _, field := range s {
		value, ok := raw[field.Name]
		if !ok || value == nil {
			value = field.Default
		}
		coerced, err := field.Coerce(value)
		if err != nil {
			return nil, err
		}
		ret[field.Name] = coerced
	}
	return ret, nil
}

func (f Field) Coerce(value any) (any, error) {
	switch f.Type {

	case ArgInt:
		n, err := coerceInt(value)
		if err != nil {
			return nil, &CoercionError{
				Field:  f.Name,
				Value:  value,
				Reason: "not an integer",
			}
		}
		return n, nil

	case ArgFloat:
		n, err := coerceFloat(value)
		if err != nil {
			return nil, &CoercionError{
				Field:  f.Name,
				Value:  value,
				Reason: "not a number",
			}
		}
		return n, nil

	case ArgEnum:
		str := stringify(value)
		if !slices.Contains(f.Values, str) {
			return nil, &CoercionError{
				Field:  f.Name,
				Value:  value,
				Reason: fmt.Sprintf("must be one of %s", strings.Join(f.Values, ", ")),
			}
		}
		return str, nil

	}

	return stringify(value), nil
}

// Defaults returns the default value of every field.
func (s Schema) Defaults() map[string]any {
	ret := make(map[string]any, len(s))
	for _, field := range s {
		ret[field.Name] = field.Default
	}
	return ret
}

func (s Schema) Field(name string) (Field, bool) {
	for _, field := range s {
		if field.Name == name {
			return field, true
		}
	}
	return Field{}, false
}

func coerceInt(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, strconv.ErrRange
		}
		return int64(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, strconv.ErrSyntax
		}
		// truncates toward zero
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, err
		}
		return coerceInt(f)
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	}
	return 0, strconv.ErrSyntax
}

func coerceFloat(v any) (float64, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	return 0, strconv.ErrSyntax
}

func stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case json.Number:
		return v.String()
	}
	return fmt.Sprint(v)
}
