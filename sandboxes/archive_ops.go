package sandboxes

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/reusee/studyboard/archives"
	"github.com/reusee/studyboard/mirrors"
	"github.com/reusee/studyboard/protocols"
)

func (r *Runtime) load(ctx context.Context, name string, data []byte) error {
	if len(data) == 0 {
		return errors.New("load: empty archive")
	}
	if name == "" {
		name = "archive"
	}
	archive, err := archives.FromBytes(os.TempDir(), name, data)
	if err != nil {
		return err
	}

	if r.archive != nil {
		if err := r.archive.Close(); err != nil {
			r.logger.WarnContext(ctx, "close archive", "error", err)
		}
	}
	r.archive = archive
	r.studies = nil
	r.states = nil

	// the mirror belongs to the replaced archive
	if err := r.fs.RemoveAll(mirrors.RelPath(r.mirror.Root)); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "archive loaded",
		"name", name,
		"size", len(data),
	)
	return nil
}

func (r *Runtime) mount(ctx context.Context) (bool, error) {
	if r.archive == nil {
		return false, ErrNotLoaded
	}
	mounted, err := r.mirror.EnsureMount(r.fs, r.archive)
	if err != nil {
		return mounted, err
	}
	if r.studies == nil {
		r.studies = newStudyRegistry()
		r.states = newStateRegistry()
	}
	if mounted {
		r.logger.InfoContext(ctx, "mounted",
			"root", r.mirror.Root,
			"group", r.mirror.Group,
		)
	}
	return mounted, nil
}

func (r *Runtime) export(ctx context.Context, name string) (ret protocols.Exported, data []byte, err error) {
	if _, err := r.mount(ctx); err != nil {
		return ret, nil, err
	}
	if name == "" {
		name = r.archive.Name()
	}
	dir, err := os.MkdirTemp("", "studysandbox-export-")
	if err != nil {
		return ret, nil, err
	}
	defer os.RemoveAll(dir)

	exported, err := r.mirror.Export(r.fs, r.archive, filepath.Join(dir, "export.db"))
	if err != nil {
		return ret, nil, err
	}
	data, err = exported.Bytes()
	if closeErr := exported.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return ret, nil, err
	}
	ret.Filename = name
	return ret, data, nil
}
