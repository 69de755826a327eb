package fragments

import (
	"errors"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Compiler turns fragment source into a CommonJS module body.
type Compiler interface {
	Compile(source string) (string, error)
}

// ESBuild compiles JSX with the classic runtime, so elements are built by
// React.createElement and fragments by React.Fragment.
type ESBuild struct{}

var _ Compiler = ESBuild{}

func (ESBuild) Compile(source string) (string, error) {
	result := api.Transform(source, api.TransformOptions{
		Loader:      api.LoaderJSX,
		Format:      api.FormatCommonJS,
		JSX:         api.JSXTransform,
		JSXFactory:  "React.createElement",
		JSXFragment: "React.Fragment",
		Target:      api.ES2015,
		Sourcefile:  "fragment.jsx",
	})
	if len(result.Errors) > 0 {
		msgs := api.FormatMessages(result.Errors, api.FormatMessagesOptions{
			Kind: api.ErrorMessage,
		})
		return "", errors.New(strings.TrimSpace(strings.Join(msgs, "\n")))
	}
	return string(result.Code), nil
}

var importPattern = regexp.MustCompile(`\brequire\s*\(|\bimport\s*\(|(?m)^\s*import\s+[\w{*"']`)

// checkImports rejects bodies that load other modules.
func checkImports(body string) error {
	if loc := importPattern.FindStringIndex(body); loc != nil {
		line := body[loc[0]:]
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		return &Error{
			Stage:   StageImport,
			Message: "fragments must be self-contained: " + strings.TrimSpace(line),
		}
	}
	return nil
}
