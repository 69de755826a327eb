package boardconfigs

import (
	"testing"
	"time"

	"github.com/reusee/dscope"
	"github.com/reusee/studyboard/configs"
	"github.com/reusee/studyboard/modes"
)

func TestDefaults(t *testing.T) {
	dscope.New(
		modes.ForTest(t),
		new(Module),
	).Fork(
		func() configs.Loader {
			return configs.NewLoader(nil, schema)
		},
	).Call(func(
		root MirrorRoot,
		group SourceGroup,
		spec SandboxSpec,
		cmd SandboxCommand,
		delay ReplaceDelay,
		timeout FragmentTimeout,
		steps MaxSteps,
	) {
		if root != DefaultMirrorRoot {
			t.Fatalf("got %v", root)
		}
		if group != DefaultSourceGroup {
			t.Fatalf("got %v", group)
		}
		if spec != SandboxInProcess {
			t.Fatalf("got %v", spec)
		}
		if len(cmd) == 0 || cmd[0] != "studysandbox" {
			t.Fatalf("got %v", cmd)
		}
		if delay != DefaultReplaceDelay {
			t.Fatalf("got %v", delay)
		}
		if timeout != DefaultFragmentTimeout {
			t.Fatalf("got %v", timeout)
		}
		if steps != 0 {
			t.Fatalf("got %v", steps)
		}
	})
}

func TestConfigured(t *testing.T) {
	dscope.New(
		modes.ForTest(t),
		new(Module),
	).Fork(
		func() configs.Loader {
			return configs.NewSourcesLoader([]configs.Source{
				{
					Name: "studyboard.cue",
					Content: []byte(`
mirror_root: "/work"
source_group: "code"
sandbox: "process"
sandbox_command: ["bin/studysandbox"]
replace_delay: "1s"
max_steps: 1000
`),
				},
			}, schema)
		},
	).Call(func(
		root MirrorRoot,
		group SourceGroup,
		spec SandboxSpec,
		cmd SandboxCommand,
		delay ReplaceDelay,
		steps MaxSteps,
	) {
		if root != "/work" {
			t.Fatalf("got %v", root)
		}
		if group != "code" {
			t.Fatalf("got %v", group)
		}
		if spec != SandboxProcess {
			t.Fatalf("got %v", spec)
		}
		if cmd[0] != "bin/studysandbox" {
			t.Fatalf("got %v", cmd)
		}
		if time.Duration(delay) != time.Second {
			t.Fatalf("got %v", delay)
		}
		if steps != 1000 {
			t.Fatalf("got %v", steps)
		}
	})
}

func TestRelativeMirrorRootRejected(t *testing.T) {
	loader := configs.NewSourcesLoader([]configs.Source{
		{Name: "bad.cue", Content: []byte(`mirror_root: "app"`)},
	}, schema)
	var root string
	if err := loader.AssignFirst("mirror_root", &root); err == nil {
		t.Fatal("should error")
	}
}
