package workcopies

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/reusee/studyboard/bridges"
	"github.com/reusee/studyboard/logs"
	"github.com/reusee/studyboard/mirrors"
)

// Copy is the host side view of the mirror. Edits stay in memory until
// Flush writes them through the bridge.
type Copy struct {
	bridge *bridges.Bridge
	logger logs.Logger

	lock  sync.Mutex
	tree  *mirrors.TreeNode
	files map[string]*file
}

type file struct {
	content []byte
	dirty   bool
	removed bool
}

type NewCopy func(bridge *bridges.Bridge) *Copy

func (Module) NewCopy(
	logger logs.Logger,
) NewCopy {
	return func(bridge *bridges.Bridge) *Copy {
		return &Copy{
			bridge: bridge,
			logger: logger,
			files:  make(map[string]*file),
		}
	}
}

// Snapshot reads the mirror tree and every file. Dirty files keep their
// edits.
func (c *Copy) Snapshot(ctx context.Context) error {
	tree, err := c.bridge.Tree(ctx, "")
	if err != nil {
		return err
	}
	contents := make(map[string][]byte)
	var walk func(*mirrors.TreeNode) error
	walk = func(node *mirrors.TreeNode) error {
		if node.Kind == mirrors.KindFile {
			data, err := c.bridge.ReadFile(ctx, node.ID)
			if err != nil {
				return fmt.Errorf("read %s: %w", node.ID, err)
			}
			contents[node.ID] = data
			return nil
		}
		for _, child := range node.Children {
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(tree); err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	c.tree = tree
	for path, f := range c.files {
		if _, ok := contents[path]; !ok && !f.dirty {
			delete(c.files, path)
		}
	}
	for path, data := range contents {
		if f, ok := c.files[path]; ok && f.dirty {
			continue
		}
		c.files[path] = &file{
			content: data,
		}
	}
	c.logger.Debug("working copy snapshot", "files", len(contents))
	return nil
}

// Tree returns the tree of the last snapshot.
func (c *Copy) Tree() *mirrors.TreeNode {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.tree
}

// Paths returns the paths of the files present in the copy.
func (c *Copy) Paths() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	var ret []string
	for path, f := range c.files {
		if !f.removed {
			ret = append(ret, path)
		}
	}
	slices.Sort(ret)
	return ret
}

func (c *Copy) Read(path string) ([]byte, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	f, ok := c.files[mirrors.AbsPath(path)]
	if !ok || f.removed {
		return nil, false
	}
	return bytes.Clone(f.content), true
}

// Edit sets the content of a file, creating it if needed.
func (c *Copy) Edit(path string, content []byte) {
	path = mirrors.AbsPath(path)
	c.lock.Lock()
	defer c.lock.Unlock()
	if f, ok := c.files[path]; ok && !f.removed && bytes.Equal(f.content, content) {
		return
	}
	c.files[path] = &file{
		content: bytes.Clone(content),
		dirty:   true,
	}
}

// Delete marks a file removed.
func (c *Copy) Delete(path string) {
	path = mirrors.AbsPath(path)
	c.lock.Lock()
	defer c.lock.Unlock()
	if f, ok := c.files[path]; !ok || f.removed {
		return
	}
	c.files[path] = &file{
		removed: true,
		dirty:   true,
	}
}

// Dirty returns the paths with unflushed changes.
func (c *Copy) Dirty() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	var ret []string
	for path, f := range c.files {
		if f.dirty {
			ret = append(ret, path)
		}
	}
	slices.Sort(ret)
	return ret
}

// Flush writes dirty files through the bridge in path order. Files that
// were not written stay dirty.
func (c *Copy) Flush(ctx context.Context) (flushed int, err error) {
	for _, path := range c.Dirty() {
		c.lock.Lock()
		f, ok := c.files[path]
		if !ok || !f.dirty {
			c.lock.Unlock()
			continue
		}
		removed := f.removed
		content := f.content
		c.lock.Unlock()

		if removed {
			err = c.bridge.Remove(ctx, path)
		} else {
			err = c.bridge.WriteFile(ctx, path, content)
		}
		if err != nil {
			return flushed, fmt.Errorf("flush %s: %w", path, err)
		}

		c.lock.Lock()
		// an edit made while writing stays dirty
		if cur, ok := c.files[path]; ok && cur == f {
			if removed {
				delete(c.files, path)
			} else {
				f.dirty = false
			}
		}
		c.lock.Unlock()
		flushed++
	}

	if flushed > 0 {
		tree, err := c.bridge.Tree(ctx, "")
		if err != nil {
			return flushed, err
		}
		c.lock.Lock()
		c.tree = tree
		c.lock.Unlock()
		c.logger.Info("working copy flushed", "files", flushed)
	}
	return flushed, nil
}
