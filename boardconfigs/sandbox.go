package boardconfigs

import (
	"github.com/reusee/studyboard/cmds"
	"github.com/reusee/studyboard/configs"
	"github.com/reusee/studyboard/vars"
)

// MirrorRoot is the directory in the sandbox filesystem the source group is
// mounted at.
type MirrorRoot string

const DefaultMirrorRoot MirrorRoot = "/app"

func (Module) MirrorRoot(
	loader configs.Loader,
) MirrorRoot {
	return vars.FirstNonZero(
		configs.First[MirrorRoot](loader, "mirror_root"),
		DefaultMirrorRoot,
	)
}

// SourceGroup is the top-level archive group holding the study code.
type SourceGroup string

const DefaultSourceGroup SourceGroup = "app"

var sourceGroupFlag = cmds.Var[string]("-source-group")

func (Module) SourceGroup(
	loader configs.Loader,
) SourceGroup {
	return vars.FirstNonZero(
		SourceGroup(*sourceGroupFlag),
		configs.First[SourceGroup](loader, "source_group"),
		DefaultSourceGroup,
	)
}

// SandboxSpec selects where the sandbox runs: "inproc", "process", or a
// websocket url.
type SandboxSpec string

const (
	SandboxInProcess SandboxSpec = "inproc"
	SandboxProcess   SandboxSpec = "process"
)

var sandboxFlag = cmds.Var[string]("-sandbox")

func (Module) SandboxSpec(
	loader configs.Loader,
) SandboxSpec {
	return vars.FirstNonZero(
		SandboxSpec(*sandboxFlag),
		configs.First[SandboxSpec](loader, "sandbox"),
		SandboxInProcess,
	)
}

// SandboxCommand is the command line of a child sandbox process.
type SandboxCommand []string

func (Module) SandboxCommand(
	loader configs.Loader,
) SandboxCommand {
	return vars.FirstNonEmpty(
		SandboxCommand(configs.First[[]string](loader, "sandbox_command")),
		SandboxCommand{"studysandbox", "-log-json"},
	)
}

// SandboxDir is the host directory backing the sandbox filesystem. Empty
// means a fresh temporary directory.
type SandboxDir string

var sandboxDirFlag = cmds.Var[string]("-sandbox-dir")

func (Module) SandboxDir(
	loader configs.Loader,
) SandboxDir {
	return vars.FirstNonZero(
		SandboxDir(*sandboxDirFlag),
		configs.First[SandboxDir](loader, "sandbox_dir"),
	)
}

// MaxSteps bounds the Starlark steps of one request. Zero is unlimited.
type MaxSteps uint64

func (Module) MaxSteps(
	loader configs.Loader,
) MaxSteps {
	return MaxSteps(configs.First[uint64](loader, "max_steps"))
}
