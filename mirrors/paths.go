package mirrors

import (
	"path"
	"strings"
)

const (
	// CacheDir holds compiled modules and is never shown or exported.
	CacheDir      = "__pycache__"
	PackageMarker = "__init__.star"
	EntryPoint    = "main.star"
)

const skeletonEntry = `# Studies are discovered by calling hierarchy().
def hierarchy():
    return {}
`

// RelPath maps an absolute sandbox path to a path usable with os.Root.
func RelPath(p string) string {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "" {
		return "."
	}
	return p
}

// AbsPath is the inverse of RelPath.
func AbsPath(rel string) string {
	return path.Clean("/" + rel)
}
