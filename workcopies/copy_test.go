package workcopies

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/reusee/dscope"
	"github.com/reusee/studyboard/bridges"
	"github.com/reusee/studyboard/configs"
	"github.com/reusee/studyboard/logs"
	"github.com/reusee/studyboard/modes"
	"github.com/reusee/studyboard/sandboxes"
)

func newTestCopy(t *testing.T) (*Copy, *bridges.Bridge) {
	var copy *Copy
	var bridge *bridges.Bridge
	dscope.New(
		modes.ForTest(t),
		new(Module),
	).Fork(
		func() configs.Loader {
			return configs.NewLoader(nil, "")
		},
	).Call(func(
		newRuntime sandboxes.NewRuntime,
		newBridge bridges.NewBridge,
		newCopy NewCopy,
		logger logs.Logger,
	) {
		runtime, err := newRuntime("")
		if err != nil {
			t.Fatal(err)
		}
		bridge = bridges.InProcess(runtime, newBridge, logger)
		copy = newCopy(bridge)
	})
	t.Cleanup(func() {
		bridge.Close()
	})

	ctx := t.Context()
	for path, content := range map[string]string{
		"/app/main.star":     "def hierarchy():\n    return {}\n",
		"/app/lib/util.star": "x = 1\n",
		"/data/notes.txt":    "notes",
	} {
		if err := bridge.WriteFile(ctx, path, []byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := copy.Snapshot(ctx); err != nil {
		t.Fatal(err)
	}
	return copy, bridge
}

func TestSnapshot(t *testing.T) {
	copy, _ := newTestCopy(t)
	if diff := cmp.Diff([]string{
		"/app/lib/util.star",
		"/app/main.star",
		"/data/notes.txt",
	}, copy.Paths()); diff != "" {
		t.Fatal(diff)
	}
	content, ok := copy.Read("app/lib/util.star")
	if !ok || string(content) != "x = 1\n" {
		t.Fatalf("got %q", content)
	}
	if len(copy.Dirty()) != 0 {
		t.Fatal()
	}
	if tree := copy.Tree(); tree == nil || tree.ID != "/" {
		t.Fatalf("got %+v", tree)
	}
}

func TestEditAndFlush(t *testing.T) {
	copy, bridge := newTestCopy(t)
	ctx := t.Context()

	copy.Edit("/app/main.star", []byte("def hierarchy():\n    return {}\n"))
	if len(copy.Dirty()) != 0 {
		t.Fatal("unchanged content marked dirty")
	}

	copy.Edit("/app/new.star", []byte("y = 2\n"))
	copy.Delete("/data/notes.txt")
	copy.Delete("/missing")
	if diff := cmp.Diff([]string{"/app/new.star", "/data/notes.txt"}, copy.Dirty()); diff != "" {
		t.Fatal(diff)
	}

	// nothing reaches the sandbox before flush
	if _, err := bridge.ReadFile(ctx, "/app/new.star"); !errors.Is(err, bridges.ErrApplication) {
		t.Fatalf("got %v", err)
	}

	n, err := copy.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("got %v", n)
	}
	if len(copy.Dirty()) != 0 {
		t.Fatal()
	}
	content, err := bridge.ReadFile(ctx, "/app/new.star")
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "y = 2\n" {
		t.Fatalf("got %q", content)
	}
	if _, err := bridge.ReadFile(ctx, "/data/notes.txt"); err == nil {
		t.Fatal("not removed")
	}
	if diff := cmp.Diff([]string{
		"/",
		"/app",
		"/app/lib",
		"/app/lib/util.star",
		"/app/main.star",
		"/app/new.star",
		"/data",
	}, copy.Tree().Paths()); diff != "" {
		t.Fatal(diff)
	}
}

func TestSnapshotKeepsEdits(t *testing.T) {
	copy, bridge := newTestCopy(t)
	ctx := t.Context()
	copy.Edit("/app/lib/util.star", []byte("x = 2\n"))
	if err := bridge.WriteFile(ctx, "/data/other.txt", []byte("o")); err != nil {
		t.Fatal(err)
	}
	if err := copy.Snapshot(ctx); err != nil {
		t.Fatal(err)
	}
	content, _ := copy.Read("/app/lib/util.star")
	if string(content) != "x = 2\n" {
		t.Fatalf("got %q", content)
	}
	if _, ok := copy.Read("/data/other.txt"); !ok {
		t.Fatal()
	}
}

func TestFlushClosedBridge(t *testing.T) {
	copy, bridge := newTestCopy(t)
	copy.Edit("/a.txt", []byte("a"))
	bridge.Close()
	if _, err := copy.Flush(t.Context()); !errors.Is(err, bridges.ErrChannelClosed) {
		t.Fatalf("got %v", err)
	}
	if diff := cmp.Diff([]string{"/a.txt"}, copy.Dirty()); diff != "" {
		t.Fatal(diff)
	}
}

func TestWatch(t *testing.T) {
	copy, bridge := newTestCopy(t)
	dir := t.TempDir()

	watcher, err := copy.Watch(dir)
	if err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(filepath.Join(dir, "app", "main.star"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "def hierarchy():\n    return {}\n" {
		t.Fatalf("got %q", content)
	}

	flushes := make(chan int, 16)
	watcher.OnFlush = func(n int, err error) {
		if err != nil {
			t.Error(err)
		}
		flushes <- n
	}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		watcher.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if err := os.WriteFile(filepath.Join(dir, "app", "lib", "util.star"), []byte("x = 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, "data", "notes.txt")); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(10 * time.Second)
	for {
		select {
		case <-flushes:
		case <-deadline:
			t.Fatalf("not synced, dirty %v", copy.Dirty())
		}
		data, err := bridge.ReadFile(t.Context(), "/app/lib/util.star")
		if err != nil {
			t.Fatal(err)
		}
		_, removedErr := bridge.ReadFile(t.Context(), "/data/notes.txt")
		if string(data) == "x = 3\n" && removedErr != nil {
			return
		}
	}
}
