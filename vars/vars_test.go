package vars

import (
	"testing"
)

func TestParseBool(t *testing.T) {
	for str, expected := range map[string]bool{
		"true": true,
		"Yes":  true,
		" on ": true,
		"1":    true,
		"f":    false,
		"OFF":  false,
		"":     false,
	} {
		value, ok := ParseBool(str)
		if !ok {
			t.Fatalf("%q not accepted", str)
		}
		if value != expected {
			t.Fatalf("%q: got %v", str, value)
		}
	}
	if _, ok := ParseBool("maybe"); ok {
		t.Fatal("should not accept maybe")
	}
}

func TestFirstNonZero(t *testing.T) {
	if got := FirstNonZero("", "flag", "default"); got != "flag" {
		t.Fatalf("got %q", got)
	}
	if got := FirstNonZero[int](); got != 0 {
		t.Fatalf("got %v", got)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	type command []string
	got := FirstNonEmpty(command(nil), command{}, command{"studysandbox"}, command{"other"})
	if len(got) != 1 || got[0] != "studysandbox" {
		t.Fatalf("got %v", got)
	}
	if got := FirstNonEmpty[command](); got != nil {
		t.Fatalf("got %v", got)
	}
}
