// Package protocols defines the requests understood by the sandbox.
package protocols

import "encoding/json"

const (
	TypeLoad      = "load"
	TypeMount     = "mount"
	TypeRun       = "run"
	TypeRead      = "fs.read"
	TypeWrite     = "fs.write"
	TypeList      = "fs.list"
	TypeRemove    = "fs.remove"
	TypeTree      = "fs.tree"
	TypeExport    = "export"
	TypeHierarchy = "hierarchy"
	TypeValidate  = "validate"
	TypeStart     = "start"
	TypeMessage   = "message"
	TypeReset     = "reset"
)

// Load carries the display name; the archive bytes travel as the blob.
type Load struct {
	Name string `json:"name"`
}

type Mounted struct {
	Mounted bool `json:"mounted"`
}

type Run struct {
	Code     string         `json:"code"`
	Bindings map[string]any `json:"bindings,omitempty"`
}

// Path addresses a file or directory. Write carries the content as the blob.
type Path struct {
	Path string `json:"path"`
}

type DirEntry struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type Export struct {
	Name string `json:"name,omitempty"`
}

// Exported carries the file name; the archive bytes travel as the blob.
type Exported struct {
	Filename string `json:"filename"`
}

type Validate struct {
	StudyID string         `json:"studyId"`
	Args    map[string]any `json:"args"`
}

type Start struct {
	StudyID string         `json:"studyId"`
	Args    map[string]any `json:"args"`
}

type Message struct {
	StudyID string          `json:"studyId"`
	StateID string          `json:"stateId"`
	Data    json.RawMessage `json:"data,omitempty"`
}
