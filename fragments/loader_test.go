package fragments

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/reusee/dscope"
	"github.com/reusee/studyboard/configs"
	"github.com/reusee/studyboard/modes"
)

func newTestLoader(t *testing.T) *Loader {
	var loader *Loader
	dscope.New(
		modes.ForTest(t),
		new(Module),
	).Fork(
		func() configs.Loader {
			return configs.NewLoader(nil, "")
		},
	).Call(func(
		l *Loader,
	) {
		loader = l
	})
	return loader
}

func load(t *testing.T, loader *Loader, source string, props Props) *Instance {
	t.Helper()
	instance, err := loader.Load(t.Context(), source, props)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(instance.Close)
	return instance
}

func stageOf(err error) Stage {
	var fragmentErr *Error
	if errors.As(err, &fragmentErr) {
		return fragmentErr.Stage
	}
	return ""
}

func TestCounter(t *testing.T) {
	loader := newTestLoader(t)
	instance := load(t, loader, `
export default function App({ study }) {
  const [n, setN] = useState(study.args.start);
  return <div>
    <span id="n">{n}</span>
    <button onClick={() => setN(n + 1)}>inc</button>
  </div>;
}
`, Props{
		StudyID: "demos/counter",
		StateID: "s1",
		Args: map[string]any{
			"start": 2,
		},
	})

	html := instance.HTML()
	if !strings.Contains(html, `<span id="n">2</span>`) {
		t.Fatalf("got %s", html)
	}
	if !strings.Contains(html, `data-study="demos/counter"`) {
		t.Fatalf("got %s", html)
	}

	handlers := instance.Handlers()
	if len(handlers) != 1 {
		t.Fatalf("got %v", handlers)
	}
	if !strings.Contains(html, `data-on-click="`+handlers[0]+`"`) {
		t.Fatalf("got %s", html)
	}
	for range 2 {
		if err := instance.Dispatch(t.Context(), handlers[0], Event{}); err != nil {
			t.Fatal(err)
		}
	}
	if html := instance.HTML(); !strings.Contains(html, `<span id="n">4</span>`) {
		t.Fatalf("got %s", html)
	}

	if err := instance.Dispatch(t.Context(), "nope", Event{}); !errors.Is(err, ErrUnknownHandler) {
		t.Fatalf("got %v", err)
	}
}

func TestSend(t *testing.T) {
	loader := newTestLoader(t)
	var got []any
	instance := load(t, loader, `
export default function App({ send }) {
  const [reply, setReply] = useState("none");
  return <button onClick={() => setReply(send({n: 1}).ok)}>{reply}</button>;
}
`, Props{
		Send: func(ctx context.Context, data any) (any, error) {
			got = append(got, data)
			return map[string]any{"ok": "yes"}, nil
		},
	})
	handlers := instance.Handlers()
	if len(handlers) != 1 {
		t.Fatalf("got %v", handlers)
	}
	if err := instance.Dispatch(t.Context(), handlers[0], Event{}); err != nil {
		t.Fatal(err)
	}
	if html := instance.HTML(); !strings.Contains(html, ">yes</button>") {
		t.Fatalf("got %s", html)
	}
	if diff := cmp.Diff([]any{map[string]any{"n": int64(1)}}, got); diff != "" {
		t.Fatal(diff)
	}
}

func TestSendFailure(t *testing.T) {
	loader := newTestLoader(t)
	instance := load(t, loader, `
export default function App({ send }) {
  return <button onClick={() => send("x")}>go</button>;
}
`, Props{
		Send: func(ctx context.Context, data any) (any, error) {
			return nil, errors.New("sandbox gone")
		},
	})
	err := instance.Dispatch(t.Context(), instance.Handlers()[0], Event{})
	if stageOf(err) != StageEvent {
		t.Fatalf("got %v", err)
	}
	if !strings.Contains(err.Error(), "sandbox gone") {
		t.Fatalf("got %v", err)
	}
	// still usable
	if html := instance.HTML(); !strings.Contains(html, ">go</button>") {
		t.Fatalf("got %s", html)
	}
}

func TestPush(t *testing.T) {
	loader := newTestLoader(t)
	instance := load(t, loader, `
export default function App({ subscribe }) {
  const [msgs, setMsgs] = useState([]);
  useEffect(() => subscribe(m => setMsgs(prev => prev.concat([m.text]))), []);
  return <ul>{msgs.map((m, i) => <li key={i}>{m}</li>)}</ul>;
}
`, Props{})

	changes := make(chan string, 8)
	remove := instance.OnChange(func(html string) {
		changes <- html
	})
	defer remove()

	instance.Push(map[string]any{"text": "hi"})
	instance.Push(map[string]any{"text": "there"})

	timeout := time.After(5 * time.Second)
	for {
		select {
		case html := <-changes:
			if strings.Contains(html, "<li>hi</li><li>there</li>") {
				return
			}
		case <-timeout:
			t.Fatalf("got %s", instance.HTML())
		}
	}
}

func TestEffectCleanup(t *testing.T) {
	loader := newTestLoader(t)
	var lock sync.Mutex
	var got []any
	instance, err := loader.Load(t.Context(), `
function Child({ send }) {
  useEffect(() => {
    send("mount");
    return () => send("unmount");
  }, []);
  return <i>child</i>;
}

export default function App({ send }) {
  const [shown, setShown] = useState(true);
  const renders = useRef(0);
  renders.current++;
  return <div>
    {shown ? <Child send={send} /> : null}
    <button onClick={() => setShown(false)}>hide</button>
  </div>;
}
`, Props{
		Send: func(ctx context.Context, data any) (any, error) {
			lock.Lock()
			defer lock.Unlock()
			got = append(got, data)
			return nil, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer instance.Close()

	if err := instance.Dispatch(t.Context(), instance.Handlers()[0], Event{}); err != nil {
		t.Fatal(err)
	}
	if html := instance.HTML(); strings.Contains(html, "child") {
		t.Fatalf("got %s", html)
	}
	lock.Lock()
	defer lock.Unlock()
	if diff := cmp.Diff([]any{"mount", "unmount"}, got); diff != "" {
		t.Fatal(diff)
	}
}

func TestCloseRunsCleanups(t *testing.T) {
	loader := newTestLoader(t)
	var got []any
	instance, err := loader.Load(t.Context(), `
export default function App({ send }) {
  useEffect(() => () => send("bye"), []);
  return null;
}
`, Props{
		Send: func(ctx context.Context, data any) (any, error) {
			got = append(got, data)
			return nil, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	instance.Close()
	instance.Close()
	if diff := cmp.Diff([]any{"bye"}, got); diff != "" {
		t.Fatal(diff)
	}
	if err := instance.Dispatch(t.Context(), "x", Event{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v", err)
	}
}

func TestBindings(t *testing.T) {
	loader := newTestLoader(t)
	instance := load(t, loader, `
export default function App() {
  return <p>{typeof fetch} {typeof require} {typeof Button} {typeof React.createElement}</p>;
}
`, Props{})
	if html := instance.HTML(); !strings.Contains(html, "<p>undefined undefined function function</p>") {
		t.Fatalf("got %s", html)
	}
}

func TestWidgets(t *testing.T) {
	loader := newTestLoader(t)
	instance := load(t, loader, `
export default function App() {
  const [v, setV] = useState("a");
  return <>
    <Select value={v} options={["a", {value: "b", label: "Bee"}]} onChange={setV} />
    <Table rows={[{x: 1, y: 2}]} />
    <Plot y={[1, 3, 2]} />
    <p>{v}</p>
  </>;
}
`, Props{})

	html := instance.HTML()
	for _, want := range []string{
		"<th>x</th><th>y</th>",
		"<td>1</td><td>2</td>",
		`points="8,192 160,8 312,100"`,
		"<p>a</p>",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("no %s in %s", want, html)
		}
	}

	handlers := instance.Handlers()
	if len(handlers) != 1 || !strings.HasSuffix(handlers[0], ":change") {
		t.Fatalf("got %v", handlers)
	}
	if err := instance.Dispatch(t.Context(), handlers[0], Event{Value: "b"}); err != nil {
		t.Fatal(err)
	}
	html = instance.HTML()
	if !strings.Contains(html, "<p>b</p>") {
		t.Fatalf("got %s", html)
	}
	if !strings.Contains(html, `selected=""`) {
		t.Fatalf("got %s", html)
	}
}

func TestLoadErrors(t *testing.T) {
	loader := newTestLoader(t)
	fast := *loader
	fast.timeout = 100 * time.Millisecond

	for _, c := range []struct {
		name    string
		loader  *Loader
		source  string
		stage   Stage
		message string
	}{
		{"compile", loader, "export default function A( { return <div> }", StageCompile, ""},
		{"import", loader, `import x from "y"; export default function A() { return x; }`, StageImport, "self-contained"},
		{"evaluate", loader, `throw new Error("boom"); export default function A() { return null; }`, StageEvaluate, "boom"},
		{"shape", loader, `export const x = 1;`, StageShape, "undefined"},
		{"shape number", loader, `export default 42;`, StageShape, "a number"},
		{"render", loader, `export default function A() { return <div>{missing}</div>; }`, StageRender, "missing"},
		{"bad tag", loader, `export default function A() { return React.createElement("no tag"); }`, StageRender, "bad element type"},
		{"runaway", loader, `export default function A() { const [n, setN] = useState(0); setN(n + 1); return n; }`, StageRender, "too many re-renders"},
		{"timeout", &fast, `while (true) {} export default function A() { return null; }`, StageEvaluate, "timed out"},
	} {
		t.Run(c.name, func(t *testing.T) {
			_, err := c.loader.Load(t.Context(), c.source, Props{})
			if err == nil {
				t.Fatal("expected error")
			}
			if stageOf(err) != c.stage {
				t.Fatalf("got %v", err)
			}
			if !strings.Contains(err.Error(), c.message) {
				t.Fatalf("got %v", err)
			}
		})
	}
}

func TestCheckImports(t *testing.T) {
	for body, bad := range map[string]bool{
		`var x = require("fs");`:        true,
		`import("x").then(f)`:           true,
		"import x from 'y'":             true,
		`var required = 1;`:             false,
		`var s = "important";`:          false,
		`React.createElement("import")`: false,
	} {
		err := checkImports(body)
		if (err != nil) != bad {
			t.Fatalf("%s: got %v", body, err)
		}
	}
}

func TestErrorPanel(t *testing.T) {
	panel := ErrorPanel(&Error{
		Stage:   StageShape,
		Message: "<script>alert(1)</script>",
	})
	if !strings.Contains(panel, `role="alert"`) {
		t.Fatalf("got %s", panel)
	}
	if strings.Contains(panel, "<script>") {
		t.Fatalf("not escaped: %s", panel)
	}
	if !strings.Contains(panel, stageTitles[StageShape]) {
		t.Fatalf("got %s", panel)
	}
	if panel := ErrorPanel(errors.New("plain")); !strings.Contains(panel, "plain") {
		t.Fatalf("got %s", panel)
	}
}
