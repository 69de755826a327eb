package studies

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCoerceInt(t *testing.T) {
	schema := Schema{
		{Name: "n", ArgSpec: ArgSpec{Type: ArgInt, Default: int64(0)}},
	}
	got, err := schema.Coerce(map[string]any{"n": "4"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"n": int64(4)}, got); diff != "" {
		t.Fatal(diff)
	}

	_, err = schema.Coerce(map[string]any{"n": "abc"})
	var coercionErr *CoercionError
	if !errors.As(err, &coercionErr) {
		t.Fatalf("got %v", err)
	}
	if coercionErr.Field != "n" {
		t.Fatalf("got %v", coercionErr.Field)
	}

	// default
	got, err = schema.Coerce(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got["n"] != int64(0) {
		t.Fatalf("got %v", got)
	}

	// json numbers
	got, err = schema.Coerce(map[string]any{"n": float64(7)})
	if err != nil {
		t.Fatal(err)
	}
	if got["n"] != int64(7) {
		t.Fatalf("got %v", got)
	}
	got, err = schema.Coerce(map[string]any{"n": json.Number("7.9")})
	if err != nil {
		t.Fatal(err)
	}
	if got["n"] != int64(7) {
		t.Fatalf("got %v", got)
	}
}

func TestCoerceEnum(t *testing.T) {
	schema := Schema{
		{Name: "x", ArgSpec: ArgSpec{Type: ArgEnum, Default: "a", Values: []string{"a", "b"}}},
	}
	if _, err := schema.Coerce(map[string]any{"x": "c"}); err == nil {
		t.Fatal("should fail")
	}
	got, err := schema.Coerce(map[string]any{"x": "b"})
	if err != nil {
		t.Fatal(err)
	}
	if got["x"] != "b" {
		t.Fatalf("got %v", got)
	}
}

func TestCoerceFloatAndString(t *testing.T) {
	schema := Schema{
		{Name: "f", ArgSpec: ArgSpec{Type: ArgFloat, Default: 1.5}},
		{Name: "s", ArgSpec: ArgSpec{Type: ArgString, Default: ""}},
	}
	got, err := schema.Coerce(map[string]any{
		"f":     " 2.25 ",
		"s":     int64(3),
		"extra": "dropped",
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"f": 2.25, "s": "3"}, got); diff != "" {
		t.Fatal(diff)
	}
	if _, err := schema.Coerce(map[string]any{"f": "x"}); err == nil {
		t.Fatal("should fail")
	}
}

func TestNormalizeArgSpec(t *testing.T) {
	for _, c := range []struct {
		raw  any
		want ArgSpec
	}{
		{
			map[string]any{"type": "int", "default": int64(3)},
			ArgSpec{Type: ArgInt, Default: int64(3)},
		},
		{
			map[string]any{"type": "int"},
			ArgSpec{Type: ArgInt, Default: int64(0)},
		},
		{
			map[string]any{"type": "float", "default": int64(2)},
			ArgSpec{Type: ArgFloat, Default: float64(2)},
		},
		{
			map[string]any{"type": "enum", "values": []any{"a", "b"}},
			ArgSpec{Type: ArgEnum, Default: "a", Values: []string{"a", "b"}},
		},
		// malformed
		{
			map[string]any{"type": "enum", "values": "a"},
			ArgSpec{Type: ArgString, Default: ""},
		},
		{
			map[string]any{"type": "int", "default": "abc"},
			ArgSpec{Type: ArgString, Default: "abc"},
		},
		{
			map[string]any{"type": "complex", "default": "x"},
			ArgSpec{Type: ArgString, Default: "x"},
		},
		{
			"foo",
			ArgSpec{Type: ArgString, Default: "foo"},
		},
		{
			nil,
			ArgSpec{Type: ArgString, Default: ""},
		},
	} {
		got := NormalizeArgSpec(c.raw)
		if diff := cmp.Diff(c.want, got); diff != "" {
			t.Fatalf("%v: %s", c.raw, diff)
		}
	}
}

func TestParseAutoRun(t *testing.T) {
	for _, c := range []struct {
		raw  any
		want AutoRun
	}{
		{"always", AutoRunAlways},
		{"Prompt", AutoRunPrompt},
		{"never", AutoRunNever},
		{"sometimes", AutoRunNever},
		{true, AutoRunNever},
		{nil, AutoRunNever},
	} {
		if got := ParseAutoRun(c.raw); got != c.want {
			t.Fatalf("%v: got %v", c.raw, got)
		}
	}
}

func TestNodeFind(t *testing.T) {
	root := Hierarchy{
		{
			Kind: KindDirectory,
			Name: "plots",
			Children: []*Node{
				{Kind: KindStudy, Name: "hist", ID: StudyID([]string{"plots", "hist"})},
			},
		},
		{Kind: KindStudy, Name: "summary", ID: "summary"},
	}
	if n := root.Find("plots/hist"); n == nil || n.Name != "hist" {
		t.Fatalf("got %v", n)
	}
	if n := root.Find("nope"); n != nil {
		t.Fatal()
	}
	var ids []string
	for study := range root.Studies() {
		ids = append(ids, study.ID)
	}
	if diff := cmp.Diff([]string{"plots/hist", "summary"}, ids); diff != "" {
		t.Fatal(diff)
	}
	dirs, n := root.Count()
	if dirs != 1 || n != 2 {
		t.Fatalf("got %v %v", dirs, n)
	}
}

func TestDescriptionHTML(t *testing.T) {
	html, err := DescriptionHTML("# Title\n\nsome *text*")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "<h1>Title</h1>") || !strings.Contains(html, "<em>text</em>") {
		t.Fatalf("got %s", html)
	}
}
