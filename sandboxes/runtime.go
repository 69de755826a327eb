package sandboxes

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/reusee/studyboard/archives"
	"github.com/reusee/studyboard/boardconfigs"
	"github.com/reusee/studyboard/logs"
	"github.com/reusee/studyboard/mirrors"
	"github.com/reusee/studyboard/protocols"
	"github.com/reusee/studyboard/syncs"
	"github.com/reusee/studyboard/transports"
	"go.starlark.net/starlark"
)

// Runtime executes sandbox requests against a private filesystem and the
// Starlark session. Requests run one at a time.
type Runtime struct {
	dir      string
	ownedDir bool
	fs       *os.Root
	mirror   mirrors.Mirror
	logger   logs.Logger
	newSpan  logs.NewSpan
	maxSteps uint64
	sem      syncs.Semaphore

	archive *archives.Archive
	globals starlark.StringDict
	// nil until the first mount, dropped when the archive is replaced
	studies *studyRegistry
	states  *stateRegistry
}

var _ transports.Handler = new(Runtime)

var ErrNotLoaded = errors.New("no archive loaded")

// NewRuntime creates a runtime on dir. An empty dir means a fresh temporary
// directory removed on Close.
type NewRuntime func(dir string) (*Runtime, error)

func (Module) NewRuntime(
	mirror mirrors.Mirror,
	logger logs.Logger,
	newSpan logs.NewSpan,
	maxSteps boardconfigs.MaxSteps,
) NewRuntime {
	return func(dir string) (*Runtime, error) {
		owned := false
		if dir == "" {
			var err error
			dir, err = os.MkdirTemp("", "studysandbox-")
			if err != nil {
				return nil, err
			}
			owned = true
		} else if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		fs, err := os.OpenRoot(dir)
		if err != nil {
			return nil, err
		}
		return &Runtime{
			dir:      dir,
			ownedDir: owned,
			fs:       fs,
			mirror:   mirror,
			logger:   logger,
			newSpan:  newSpan,
			maxSteps: uint64(maxSteps),
			sem:      syncs.NewSemaphore(1),
			globals:  make(starlark.StringDict),
		}, nil
	}
}

// Dir is the host directory backing the sandbox filesystem.
func (r *Runtime) Dir() string {
	return r.dir
}

func (r *Runtime) Close() error {
	r.sem.Acquire()
	defer r.sem.Release()
	var err error
	if r.archive != nil {
		err = errors.Join(err, r.archive.Close())
		r.archive = nil
	}
	err = errors.Join(err, r.fs.Close())
	if r.ownedDir {
		err = errors.Join(err, os.RemoveAll(r.dir))
	}
	return err
}

func (r *Runtime) Handle(ctx context.Context, req transports.Request, push transports.Pusher) (reply transports.Reply, err error) {
	if err := r.sem.AcquireContext(ctx); err != nil {
		return reply, err
	}
	defer r.sem.Release()

	ctx, _ = r.newSpan(ctx, "",
		"request", req.Type,
		"id", req.ID,
	)
	defer func() {
		if err != nil {
			r.logger.InfoContext(ctx, "request failed",
				"request", req.Type,
				"error", err,
			)
		}
	}()

	switch req.Type {

	case protocols.TypeLoad:
		var payload protocols.Load
		if err := req.Decode(&payload); err != nil {
			return reply, err
		}
		return reply, r.load(ctx, payload.Name, req.Blob)

	case protocols.TypeMount:
		mounted, err := r.mount(ctx)
		if err != nil {
			return reply, err
		}
		reply.Data = protocols.Mounted{
			Mounted: mounted,
		}
		return reply, nil

	case protocols.TypeRun:
		var payload protocols.Run
		if err := req.Decode(&payload); err != nil {
			return reply, err
		}
		reply.Data, err = r.run(ctx, payload.Code, payload.Bindings)
		return reply, err

	case protocols.TypeRead:
		var payload protocols.Path
		if err := req.Decode(&payload); err != nil {
			return reply, err
		}
		reply.Blob, err = r.readFile(payload.Path)
		return reply, err

	case protocols.TypeWrite:
		var payload protocols.Path
		if err := req.Decode(&payload); err != nil {
			return reply, err
		}
		return reply, r.writeFile(payload.Path, req.Blob)

	case protocols.TypeList:
		var payload protocols.Path
		if err := req.Decode(&payload); err != nil {
			return reply, err
		}
		reply.Data, err = r.listDir(payload.Path)
		return reply, err

	case protocols.TypeRemove:
		var payload protocols.Path
		if err := req.Decode(&payload); err != nil {
			return reply, err
		}
		return reply, r.remove(payload.Path)

	case protocols.TypeTree:
		var payload protocols.Path
		if err := req.Decode(&payload); err != nil {
			return reply, err
		}
		if payload.Path == "" {
			payload.Path = r.mirror.Root
		}
		reply.Data, err = mirrors.Tree(r.fs, payload.Path)
		return reply, err

	case protocols.TypeExport:
		var payload protocols.Export
		if err := req.Decode(&payload); err != nil {
			return reply, err
		}
		var exported protocols.Exported
		exported, reply.Blob, err = r.export(ctx, payload.Name)
		reply.Data = exported
		return reply, err

	case protocols.TypeHierarchy:
		reply.Data, err = r.discover(ctx)
		return reply, err

	case protocols.TypeValidate:
		var payload protocols.Validate
		if err := req.Decode(&payload); err != nil {
			return reply, err
		}
		reply.Data, err = r.validate(ctx, payload.StudyID, payload.Args)
		return reply, err

	case protocols.TypeStart:
		var payload protocols.Start
		if err := req.Decode(&payload); err != nil {
			return reply, err
		}
		reply.Data, err = r.start(ctx, payload.StudyID, payload.Args)
		return reply, err

	case protocols.TypeMessage:
		var payload protocols.Message
		if err := req.Decode(&payload); err != nil {
			return reply, err
		}
		reply.Data, err = r.message(ctx, payload, push)
		return reply, err

	case protocols.TypeReset:
		r.studies = nil
		r.states = nil
		return reply, nil

	}

	return reply, fmt.Errorf("unknown request type: %q", req.Type)
}
