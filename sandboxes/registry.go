package sandboxes

import (
	"github.com/reusee/studyboard/studies"
	"go.starlark.net/starlark"
)

// Capability records which hooks a study provides.
type Capability uint8

const (
	CanValidate Capability = 1 << iota
	CanStart
	CanMessage
)

type studyEntry struct {
	id       string
	schema   studies.Schema
	caps     Capability
	validate starlark.Callable
	start    starlark.Callable
	message  starlark.Callable
}

func (s *studyEntry) Has(c Capability) bool {
	return s.caps&c != 0
}

type studyRegistry struct {
	entries map[string]*studyEntry
}

func newStudyRegistry() *studyRegistry {
	return &studyRegistry{
		entries: make(map[string]*studyEntry),
	}
}

type stateEntry struct {
	studyID string
	value   starlark.Value
}

// stateRegistry holds the states of started studies. Entries live until the
// archive is replaced.
type stateRegistry struct {
	entries map[string]*stateEntry
}

func newStateRegistry() *stateRegistry {
	return &stateRegistry{
		entries: make(map[string]*stateEntry),
	}
}
