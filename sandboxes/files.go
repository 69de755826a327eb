package sandboxes

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/reusee/studyboard/mirrors"
	"github.com/reusee/studyboard/protocols"
)

func (r *Runtime) readFile(p string) ([]byte, error) {
	content, err := r.fs.ReadFile(mirrors.RelPath(p))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return content, nil
}

// writeFile creates intermediate directories as needed.
func (r *Runtime) writeFile(p string, content []byte) error {
	rel := mirrors.RelPath(p)
	if rel == "." {
		return fmt.Errorf("write %s: %w", p, fs.ErrInvalid)
	}
	if dir := path.Dir(rel); dir != "." {
		if err := r.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
	}
	if err := r.fs.WriteFile(rel, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

func (r *Runtime) listDir(p string) ([]protocols.DirEntry, error) {
	f, err := r.fs.Open(mirrors.RelPath(p))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", p, err)
	}
	defer f.Close()
	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", p, err)
	}
	ret := make([]protocols.DirEntry, 0, len(entries))
	for _, entry := range entries {
		kind := string(mirrors.KindFile)
		if entry.IsDir() {
			kind = string(mirrors.KindDirectory)
		}
		ret = append(ret, protocols.DirEntry{
			Name: entry.Name(),
			Kind: kind,
		})
	}
	slices.SortFunc(ret, func(a, b protocols.DirEntry) int {
		return strings.Compare(a.Name, b.Name)
	})
	return ret, nil
}

// remove is recursive on directories.
func (r *Runtime) remove(p string) error {
	rel := mirrors.RelPath(p)
	if rel == "." {
		return fmt.Errorf("remove %s: %w", p, fs.ErrInvalid)
	}
	if _, err := r.fs.Stat(rel); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
		return err
	}
	return r.fs.RemoveAll(rel)
}
