package workcopies

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/reusee/studyboard/mirrors"
)

// quiet period after the last change before flushing
const watchQuiet = 200 * time.Millisecond

// Checkout writes the files of the copy under dir.
func (c *Copy) Checkout(dir string) error {
	for _, path := range c.Paths() {
		content, ok := c.Read(path)
		if !ok {
			continue
		}
		local := filepath.Join(dir, filepath.FromSlash(mirrors.RelPath(path)))
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(local, content, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Watcher keeps a local checkout of a copy in sync.
type Watcher struct {
	copy    *Copy
	dir     string
	watcher *fsnotify.Watcher
	// called after each flush if not nil
	OnFlush func(flushed int, err error)
}

// Watch checks the copy out to dir and starts watching it.
func (c *Copy) Watch(dir string) (*Watcher, error) {
	if err := c.Checkout(dir); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addTree(watcher, dir); err != nil {
		watcher.Close()
		return nil, err
	}
	c.logger.Info("watching working copy", "dir", dir)
	return &Watcher{
		copy:    c,
		dir:     dir,
		watcher: watcher,
	}, nil
}

// Run applies local changes to the copy and flushes after a quiet period,
// until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	c := w.copy

	ticker := time.NewTicker(watchQuiet / 4)
	defer ticker.Stop()
	var lastChange time.Time

	for {
		select {

		case <-ctx.Done():
			if !lastChange.IsZero() {
				// flush what is pending with a fresh context
				n, err := c.Flush(context.WithoutCancel(ctx))
				w.flushed(n, err)
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if c.handleEvent(w.watcher, w.dir, event) {
				lastChange = time.Now()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("watch error", "error", err)

		case <-ticker.C:
			if lastChange.IsZero() || time.Since(lastChange) < watchQuiet {
				continue
			}
			lastChange = time.Time{}
			n, err := c.Flush(ctx)
			w.flushed(n, err)

		}
	}
}

func (w *Watcher) flushed(n int, err error) {
	if err != nil {
		w.copy.logger.Warn("flush failed", "error", err)
	}
	if w.OnFlush != nil {
		w.OnFlush(n, err)
	}
}

func addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if entry.Name() == mirrors.CacheDir {
			return filepath.SkipDir
		}
		return watcher.Add(p)
	})
}

// handleEvent applies one local change, reporting whether the copy changed.
func (c *Copy) handleEvent(watcher *fsnotify.Watcher, dir string, event fsnotify.Event) bool {
	rel, err := filepath.Rel(dir, event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	if slices.Contains(strings.Split(rel, "/"), mirrors.CacheDir) {
		return false
	}
	path := mirrors.AbsPath(rel)

	switch {

	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil {
			return false
		}
		if info.IsDir() {
			if err := addTree(watcher, event.Name); err != nil {
				c.logger.Warn("watch directory", "dir", event.Name, "error", err)
			}
			return c.importTree(dir, event.Name)
		}
		content, err := os.ReadFile(event.Name)
		if err != nil {
			return false
		}
		c.Edit(path, content)
		return c.isDirty(path)

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		removed := false
		for _, p := range c.Paths() {
			if p == path || strings.HasPrefix(p, path+"/") {
				c.Delete(p)
				removed = true
			}
		}
		return removed

	}
	return false
}

// importTree edits in the files under a directory created locally.
func (c *Copy) importTree(dir, sub string) bool {
	changed := false
	err := filepath.WalkDir(sub, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if entry.Name() == mirrors.CacheDir {
				return filepath.SkipDir
			}
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		c.Edit(filepath.ToSlash(rel), content)
		changed = true
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("import directory", "dir", sub, "error", err)
	}
	return changed
}

func (c *Copy) isDirty(path string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	f, ok := c.files[path]
	return ok && f.dirty
}
