package navs

import (
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/reusee/dscope"
	"github.com/reusee/studyboard/configs"
	"github.com/reusee/studyboard/modes"
	"github.com/reusee/studyboard/sessions"
	"github.com/reusee/studyboard/studies"
)

func TestQueryRoundTrip(t *testing.T) {
	state := State{
		StudyID: "demos/plot",
		Args: map[string]any{
			"n":     7,
			"label": "a b/c?",
			"rate":  0.5,
		},
	}
	query, err := state.Query(url.Values{
		"other":      {"kept"},
		ParamAutoRun: {"always"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if query.Has(ParamAutoRun) {
		t.Fatal("override not stripped")
	}
	if query.Get("other") != "kept" {
		t.Fatal()
	}

	// through a url string
	parsed, err := url.ParseQuery(query.Encode())
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(parsed)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Override != "" {
		t.Fatalf("got %v", decoded.Override)
	}
	if diff := cmp.Diff(State{
		StudyID: "demos/plot",
		Args: map[string]any{
			"n":     json.Number("7"),
			"label": "a b/c?",
			"rate":  json.Number("0.5"),
		},
	}, decoded.State); diff != "" {
		t.Fatal(diff)
	}
	if !decoded.State.Equal(state) {
		t.Fatal("not equal")
	}
}

func TestOverride(t *testing.T) {
	decoded, err := Decode(url.Values{
		ParamStudy:   {"x"},
		ParamAutoRun: {"Prompt"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Override != studies.AutoRunPrompt {
		t.Fatalf("got %v", decoded.Override)
	}
	if decoded.Visible.Has(ParamAutoRun) {
		t.Fatal("override visible")
	}
	if decoded.Visible.Get(ParamStudy) != "x" {
		t.Fatal()
	}
	if decoded.State.Args != nil {
		t.Fatal()
	}
}

func TestDecodeBadArgs(t *testing.T) {
	if _, err := Decode(url.Values{ParamArgs: {"!!"}}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Decode(url.Values{ParamArgs: {"bm90IGpzb24"}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestEmptyState(t *testing.T) {
	query, err := State{}.Query(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(query) != 0 {
		t.Fatalf("got %v", query)
	}
}

func TestHistory(t *testing.T) {
	h := NewHistory(State{StudyID: "a"})
	if sel := h.Initial(); sel.Origin != sessions.OriginInitial || sel.StudyID != "a" {
		t.Fatalf("got %+v", sel)
	}

	if sel := h.Push(State{StudyID: "b"}); sel.Origin != sessions.OriginUser {
		t.Fatalf("got %+v", sel)
	}
	h.Push(State{StudyID: "c"})
	// same state is not pushed twice
	h.Push(State{StudyID: "c"})
	if h.Len() != 3 {
		t.Fatalf("got %v", h.Len())
	}

	sel, ok := h.Back()
	if !ok || sel.StudyID != "b" || sel.Origin != sessions.OriginHistory {
		t.Fatalf("got %+v", sel)
	}
	h.Back()
	if _, ok := h.Back(); ok {
		t.Fatal("went before the first entry")
	}
	sel, ok = h.Forward()
	if !ok || sel.StudyID != "b" || sel.Origin != sessions.OriginHistory {
		t.Fatalf("got %+v", sel)
	}

	// pushing drops forward entries
	h.Push(State{StudyID: "d"})
	if h.Len() != 3 {
		t.Fatalf("got %v", h.Len())
	}
	if _, ok := h.Forward(); ok {
		t.Fatal("forward entry kept")
	}

	h.Replace(State{StudyID: "d", Args: map[string]any{"n": 1}})
	if diff := cmp.Diff(map[string]any{"n": 1}, h.Current().Args); diff != "" {
		t.Fatal(diff)
	}
}

func TestHistoryVisit(t *testing.T) {
	h := NewHistory(State{StudyID: "a"})
	h.Visit(State{StudyID: "b"})
	h.Visit(State{StudyID: "c"})

	// the address of the previous entry is a back
	sel := h.Visit(State{StudyID: "b"})
	if sel.Origin != sessions.OriginHistory || sel.StudyID != "b" {
		t.Fatalf("got %+v", sel)
	}
	if h.Len() != 3 {
		t.Fatalf("got %v", h.Len())
	}

	// and the next one a forward
	sel = h.Visit(State{StudyID: "c"})
	if sel.Origin != sessions.OriginHistory || sel.StudyID != "c" {
		t.Fatalf("got %+v", sel)
	}

	// anything else is pushed
	sel = h.Visit(State{StudyID: "a"})
	if sel.Origin != sessions.OriginUser {
		t.Fatalf("got %+v", sel)
	}
	if h.Len() != 4 || h.Current().StudyID != "a" {
		t.Fatalf("got %v %+v", h.Len(), h.Current())
	}
}

func newTestReplacer(t *testing.T, history *History) *Replacer {
	var replacer *Replacer
	dscope.New(
		modes.ForTest(t),
		new(Module),
	).Fork(
		func() configs.Loader {
			return configs.NewLoader(nil, "")
		},
	).Call(func(
		newReplacer NewReplacer,
	) {
		replacer = newReplacer(history)
	})
	t.Cleanup(replacer.Stop)
	return replacer
}

func TestReplacerDebounce(t *testing.T) {
	history := NewHistory(State{StudyID: "a"})
	replacer := newTestReplacer(t, history)
	replacer.delay = 50 * time.Millisecond

	for n := range 5 {
		replacer.Set(State{StudyID: "a", Args: map[string]any{"n": n}})
	}
	if !replacer.Pending() {
		t.Fatal("expected pending")
	}
	if history.Current().Args != nil {
		t.Fatal("replaced before the quiet period")
	}

	deadline := time.Now().Add(5 * time.Second)
	for replacer.Pending() {
		if time.Now().After(deadline) {
			t.Fatal("not flushed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if diff := cmp.Diff(map[string]any{"n": 4}, history.Current().Args); diff != "" {
		t.Fatal(diff)
	}
	if history.Len() != 1 {
		t.Fatal()
	}
}

func TestReplacerFlush(t *testing.T) {
	history := NewHistory(State{StudyID: "a"})
	replacer := newTestReplacer(t, history)
	if replacer.delay != 300*time.Millisecond {
		t.Fatalf("got %v", replacer.delay)
	}
	replacer.Set(State{StudyID: "b"})
	replacer.Flush()
	if history.Current().StudyID != "b" {
		t.Fatal()
	}
	replacer.Set(State{StudyID: "c"})
	replacer.Stop()
	if history.Current().StudyID != "b" {
		t.Fatal()
	}
}
