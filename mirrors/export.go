package mirrors

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/reusee/studyboard/archives"
)

// Export writes a new archive at filePath holding every top-level entry of src
// except the mirrored group, followed by the mounted tree as that group.
func (m Mirror) Export(root *os.Root, src *archives.Archive, filePath string) (*archives.Archive, error) {
	dst, err := archives.Create(filePath)
	if err != nil {
		return nil, err
	}
	if err := m.export(root, src, dst); err != nil {
		dst.Close()
		return nil, fmt.Errorf("export: %w", err)
	}
	return dst, nil
}

func (m Mirror) export(root *os.Root, src *archives.Archive, dst *archives.Archive) error {
	keys, err := src.Root().Keys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if key == m.Group {
			continue
		}
		entry, err := src.Root().Get(key)
		if err != nil {
			return err
		}
		if err := dst.Root().CopyFrom(entry); err != nil {
			return err
		}
	}

	group, err := dst.Root().CreateGroup(m.Group)
	if err != nil {
		return err
	}
	return emit(root, RelPath(m.Root), group)
}

func emit(root *os.Root, dir string, group *archives.Group) error {
	entries, err := readDir(root, dir)
	if err != nil {
		return err
	}

	// directories first so empty ones survive
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == CacheDir {
			continue
		}
		sub, err := group.CreateGroup(entry.Name())
		if err != nil {
			return err
		}
		if err := emit(root, path.Join(dir, entry.Name()), sub); err != nil {
			return err
		}
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		content, err := root.ReadFile(path.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		if _, err := group.WriteDataset(entry.Name(), content, archives.DTypeString); err != nil {
			return err
		}
	}

	return nil
}

func readDir(root *os.Root, dir string) ([]fs.DirEntry, error) {
	f, err := root.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return entries, nil
}
