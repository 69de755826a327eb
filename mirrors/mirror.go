package mirrors

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/reusee/studyboard/archives"
	"github.com/reusee/studyboard/boardconfigs"
	"github.com/reusee/studyboard/logs"
	"golang.org/x/text/encoding/unicode"
)

// Mirror maps the source group of an archive to a directory of the sandbox
// filesystem.
type Mirror struct {
	// Root is the absolute mount point
	Root   string
	Group  string
	logger logs.Logger
}

func (Module) Mirror(
	root boardconfigs.MirrorRoot,
	group boardconfigs.SourceGroup,
	logger logs.Logger,
) Mirror {
	return Mirror{
		Root:   string(root),
		Group:  string(group),
		logger: logger,
	}
}

// EnsureMount populates the mount point from the archive unless it already
// exists as a directory. It reports whether anything was written. A failed
// mount leaves no mount point behind.
func (m Mirror) EnsureMount(root *os.Root, archive *archives.Archive) (mounted bool, err error) {
	dir := RelPath(m.Root)
	info, err := root.Stat(dir)
	if err == nil {
		if info.IsDir() {
			return false, nil
		}
		return false, fmt.Errorf("mount %s: %w", m.Root, fs.ErrExist)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	if err := root.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("mount %s: %w", m.Root, err)
	}
	defer func() {
		if err == nil {
			return
		}
		mounted = false
		if rmErr := root.RemoveAll(dir); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
	}()

	entry, err := archive.Root().Get(m.Group)
	if err != nil && !errors.Is(err, archives.ErrNotFound) {
		return false, fmt.Errorf("mount %s: %w", m.Root, err)
	}
	if group, ok := entry.(*archives.Group); ok {
		if err := m.materialize(root, group, dir); err != nil {
			return false, fmt.Errorf("mount %s: %w", m.Root, err)
		}
	} else if m.logger != nil {
		m.logger.Info("no source group, writing skeleton",
			"group", m.Group,
			"archive", archive.Name(),
		)
	}

	if err := writeIfAbsent(root, path.Join(dir, PackageMarker), nil); err != nil {
		return false, err
	}
	if err := writeIfAbsent(root, path.Join(dir, EntryPoint), []byte(skeletonEntry)); err != nil {
		return false, err
	}

	return true, nil
}

func (m Mirror) materialize(root *os.Root, group *archives.Group, dir string) error {
	keys, err := group.Keys()
	if err != nil {
		return err
	}
	decoder := unicode.UTF8.NewDecoder()
	for _, key := range keys {
		if key == CacheDir {
			continue
		}
		entry, err := group.Get(key)
		if err != nil {
			return err
		}
		target := path.Join(dir, key)

		switch entry := entry.(type) {

		case *archives.Group:
			if err := root.Mkdir(target, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
				return err
			}
			if err := m.materialize(root, entry, target); err != nil {
				return err
			}

		case *archives.Dataset:
			data, err := entry.Bytes()
			if err != nil {
				return err
			}
			// invalid sequences become U+FFFD
			text, err := decoder.Bytes(data)
			if err != nil {
				return fmt.Errorf("decode %s: %w", entry.Path(), err)
			}
			if err := root.WriteFile(target, text, 0o644); err != nil {
				return err
			}

		}
	}
	return nil
}

func writeIfAbsent(root *os.Root, name string, content []byte) error {
	_, err := root.Stat(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return root.WriteFile(name, content, 0o644)
}
