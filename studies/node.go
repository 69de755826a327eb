package studies

import (
	"iter"
	"strings"
)

type NodeKind string

const (
	KindDirectory NodeKind = "directory"
	KindStudy     NodeKind = "study"
)

// Node is a hierarchy node. Directories have Children, studies have the rest.
type Node struct {
	Kind        NodeKind `json:"kind"`
	Name        string   `json:"name"`
	Children    []*Node  `json:"children,omitempty"`
	ID          string   `json:"id,omitempty"`
	Description string   `json:"description,omitempty"`
	Args        Schema   `json:"args,omitempty"`
	AutoRun     AutoRun  `json:"autorun,omitempty"`
}

// StudyID derives a study id from its path in the hierarchy.
func StudyID(path []string) string {
	return strings.Join(path, "/")
}

// Hierarchy is the list of top-level nodes.
type Hierarchy []*Node

// Studies iterates study nodes depth first.
func (h Hierarchy) Studies() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for _, node := range h {
			if !node.walk(yield) {
				return
			}
		}
	}
}

// Find returns the study with the id, or nil.
func (h Hierarchy) Find(id string) *Node {
	for study := range h.Studies() {
		if study.ID == id {
			return study
		}
	}
	return nil
}

// Count returns the number of directory and study nodes.
func (h Hierarchy) Count() (directories int, studies int) {
	for _, node := range h {
		if node.Kind == KindStudy {
			studies++
			continue
		}
		directories++
		d, s := Hierarchy(node.Children).Count()
		directories += d
		studies += s
	}
	return
}

func (n *Node) walk(yield func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if n.Kind == KindStudy {
		return yield(n)
	}
	for _, child := range n.Children {
		if !child.walk(yield) {
			return false
		}
	}
	return true
}

// Verdict is the result of a validate hook.
type Verdict struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// StartResult is what starting a study yields.
type StartResult struct {
	StateID        string `json:"stateId"`
	FragmentSource string `json:"fragmentSource,omitempty"`
}
