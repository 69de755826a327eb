package mirrors

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/reusee/studyboard/archives"
)

func openRoot(t *testing.T) *os.Root {
	root, err := os.OpenRoot(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		root.Close()
	})
	return root
}

func newArchive(t *testing.T, name string) *archives.Archive {
	archive, err := archives.Create(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		archive.Close()
	})
	return archive
}

func sampleArchive(t *testing.T) *archives.Archive {
	archive := newArchive(t, "sample.db")
	app, err := archive.Root().CreateGroup("app")
	if err != nil {
		t.Fatal(err)
	}
	lib, err := app.CreateGroup("lib")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lib.WriteDataset("util.star", []byte("X = 1\n"), archives.DTypeString); err != nil {
		t.Fatal(err)
	}
	if _, err := app.CreateGroup("empty"); err != nil {
		t.Fatal(err)
	}
	if _, err := app.CreateGroup(CacheDir); err != nil {
		t.Fatal(err)
	}
	if _, err := app.WriteDataset("main.star", []byte("def hierarchy():\n    return {}\n"), archives.DTypeString); err != nil {
		t.Fatal(err)
	}
	if _, err := app.WriteDataset("notes.txt", []byte{'a', 0xff, 'b'}, archives.DTypeBytes); err != nil {
		t.Fatal(err)
	}
	data, err := archive.Root().CreateGroup("data")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := data.WriteDataset("x", []byte{1, 2, 3}, archives.DTypeBytes); err != nil {
		t.Fatal(err)
	}
	return archive
}

var testMirror = Mirror{
	Root:  "/app",
	Group: "app",
}

func TestEnsureMountIdempotent(t *testing.T) {
	root := openRoot(t)
	archive := sampleArchive(t)

	mounted, err := testMirror.EnsureMount(root, archive)
	if err != nil {
		t.Fatal(err)
	}
	if !mounted {
		t.Fatal()
	}
	first, err := Tree(root, "/app")
	if err != nil {
		t.Fatal(err)
	}

	// edits survive a second mount
	if err := root.WriteFile("app/main.star", []byte("edited"), 0o644); err != nil {
		t.Fatal(err)
	}
	mounted, err = testMirror.EnsureMount(root, archive)
	if err != nil {
		t.Fatal(err)
	}
	if mounted {
		t.Fatal()
	}
	second, err := Tree(root, "/app")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatal(diff)
	}
	content, err := root.ReadFile("app/main.star")
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "edited" {
		t.Fatalf("got %s", content)
	}
}

func TestMountContent(t *testing.T) {
	root := openRoot(t)
	if _, err := testMirror.EnsureMount(root, sampleArchive(t)); err != nil {
		t.Fatal(err)
	}
	tree, err := Tree(root, "/app")
	if err != nil {
		t.Fatal(err)
	}
	want := &TreeNode{
		ID:   "/app",
		Name: "app",
		Kind: KindDirectory,
		Children: []*TreeNode{
			{ID: "/app/empty", Name: "empty", Kind: KindDirectory, Children: []*TreeNode{}},
			{ID: "/app/lib", Name: "lib", Kind: KindDirectory, Children: []*TreeNode{
				{ID: "/app/lib/util.star", Name: "util.star", Kind: KindFile},
			}},
			{ID: "/app/__init__.star", Name: "__init__.star", Kind: KindFile},
			{ID: "/app/main.star", Name: "main.star", Kind: KindFile},
			{ID: "/app/notes.txt", Name: "notes.txt", Kind: KindFile},
		},
	}
	if diff := cmp.Diff(want, tree); diff != "" {
		t.Fatal(diff)
	}

	content, err := root.ReadFile("app/notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "a\uFFFDb" {
		t.Fatalf("got %q", content)
	}
	// not overwritten by the skeleton
	content, err = root.ReadFile("app/main.star")
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "def hierarchy():\n    return {}\n" {
		t.Fatalf("got %q", content)
	}
}

func TestMountSkeleton(t *testing.T) {
	root := openRoot(t)
	archive := newArchive(t, "empty.db")
	if _, err := testMirror.EnsureMount(root, archive); err != nil {
		t.Fatal(err)
	}
	tree, err := Tree(root, "/app")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"/app", "/app/__init__.star", "/app/main.star"}, tree.Paths()); diff != "" {
		t.Fatal(diff)
	}
	marker, err := root.ReadFile("app/__init__.star")
	if err != nil {
		t.Fatal(err)
	}
	if len(marker) != 0 {
		t.Fatalf("got %q", marker)
	}
}

func TestRoundTrip(t *testing.T) {
	archive := sampleArchive(t)
	root := openRoot(t)
	if _, err := testMirror.EnsureMount(root, archive); err != nil {
		t.Fatal(err)
	}
	// cache written by module loading
	if err := root.MkdirAll("app/lib/"+CacheDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := root.WriteFile("app/lib/"+CacheDir+"/util.starc", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	first, err := Tree(root, "/app")
	if err != nil {
		t.Fatal(err)
	}

	exported, err := testMirror.Export(root, archive, filepath.Join(t.TempDir(), "out.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer exported.Close()

	// untouched groups are copied verbatim
	entry, err := exported.Root().Lookup("data/x")
	if err != nil {
		t.Fatal(err)
	}
	data, err := entry.(*archives.Dataset).Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{1, 2, 3}, data); diff != "" {
		t.Fatal(diff)
	}
	if _, err := exported.Root().Lookup("app/lib/" + CacheDir); err == nil {
		t.Fatal("cache exported")
	}

	root2 := openRoot(t)
	if _, err := testMirror.EnsureMount(root2, exported); err != nil {
		t.Fatal(err)
	}
	second, err := Tree(root2, "/app")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatal(diff)
	}
}

func TestRelPath(t *testing.T) {
	for _, c := range [][2]string{
		{"/", "."},
		{"/app", "app"},
		{"app/x/../y", "app/y"},
		{"/../etc", "etc"},
	} {
		if got := RelPath(c[0]); got != c[1] {
			t.Fatalf("%s: got %s", c[0], got)
		}
	}
}

func TestFailedMountLeavesNoMountPoint(t *testing.T) {
	root := openRoot(t)

	broken := sampleArchive(t)
	if err := broken.Close(); err != nil {
		t.Fatal(err)
	}
	mounted, err := testMirror.EnsureMount(root, broken)
	if err == nil {
		t.Fatal("should fail")
	}
	if mounted {
		t.Fatal("failed mount reported as mounted")
	}
	if _, err := root.Stat("app"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("mount point left behind: %v", err)
	}

	// a later mount starts over
	mounted, err = testMirror.EnsureMount(root, sampleArchive(t))
	if err != nil {
		t.Fatal(err)
	}
	if !mounted {
		t.Fatal()
	}
	for _, name := range []string{"app/main.star", "app/__init__.star", "app/lib/util.star"} {
		if _, err := root.Stat(name); err != nil {
			t.Fatal(err)
		}
	}
}
