package mirrors

import (
	"os"
	"path"
	"slices"
	"strings"
)

type NodeKind string

const (
	KindFile      NodeKind = "file"
	KindDirectory NodeKind = "directory"
)

// TreeNode is a filesystem node. ID is the absolute path.
type TreeNode struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Kind     NodeKind    `json:"kind"`
	Children []*TreeNode `json:"children,omitempty"`
}

// Tree returns the tree under the absolute path p, directories before files,
// each kind in name order, cache directories left out.
func Tree(root *os.Root, p string) (*TreeNode, error) {
	rel := RelPath(p)
	info, err := root.Stat(rel)
	if err != nil {
		return nil, err
	}
	abs := AbsPath(rel)
	node := &TreeNode{
		ID:   abs,
		Name: path.Base(abs),
		Kind: KindFile,
	}
	if !info.IsDir() {
		return node, nil
	}
	node.Kind = KindDirectory
	node.Children = []*TreeNode{}
	if err := fillTree(root, rel, node); err != nil {
		return nil, err
	}
	return node, nil
}

func fillTree(root *os.Root, dir string, node *TreeNode) error {
	entries, err := readDir(root, dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Name() == CacheDir {
			continue
		}
		rel := path.Join(dir, entry.Name())
		child := &TreeNode{
			ID:   AbsPath(rel),
			Name: entry.Name(),
			Kind: KindFile,
		}
		if entry.IsDir() {
			child.Kind = KindDirectory
			child.Children = []*TreeNode{}
			if err := fillTree(root, rel, child); err != nil {
				return err
			}
		}
		node.Children = append(node.Children, child)
	}
	slices.SortStableFunc(node.Children, func(a, b *TreeNode) int {
		if a.Kind != b.Kind {
			if a.Kind == KindDirectory {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	return nil
}

// Paths returns the ids of all nodes, parents before children.
func (t *TreeNode) Paths() []string {
	ret := []string{t.ID}
	for _, child := range t.Children {
		ret = append(ret, child.Paths()...)
	}
	return ret
}
