package fragments

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/net/html"
)

// Stage is the step of the fragment pipeline that failed.
type Stage string

const (
	StageCompile  Stage = "compile"
	StageImport   Stage = "import"
	StageEvaluate Stage = "evaluate"
	StageShape    Stage = "shape"
	StageRender   Stage = "render"
	StageEvent    Stage = "event"
)

type Error struct {
	Stage   Stage
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fragment %s: %s", e.Stage, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, err error) *Error {
	var fragmentErr *Error
	if errors.As(err, &fragmentErr) {
		return fragmentErr
	}
	return &Error{
		Stage:   stage,
		Message: jsMessage(err),
		Err:     err,
	}
}

var stageTitles = map[Stage]string{
	StageCompile:  "The fragment source does not compile",
	StageImport:   "The fragment imports a module",
	StageEvaluate: "The fragment failed to evaluate",
	StageShape:    "The fragment has no component as its default export",
	StageRender:   "The fragment failed to render",
	StageEvent:    "An event handler of the fragment failed",
}

// ErrorPanel returns the HTML shown in place of a fragment that failed.
func ErrorPanel(err error) string {
	title := "The fragment failed"
	var fragmentErr *Error
	if errors.As(err, &fragmentErr) {
		if t, ok := stageTitles[fragmentErr.Stage]; ok {
			title = t
		}
	}

	panel := &html.Node{
		Type: html.ElementNode,
		Data: "div",
		Attr: []html.Attribute{
			{Key: "class", Val: "fragment-error"},
			{Key: "role", Val: "alert"},
		},
	}
	heading := &html.Node{
		Type: html.ElementNode,
		Data: "strong",
	}
	heading.AppendChild(&html.Node{
		Type: html.TextNode,
		Data: title,
	})
	panel.AppendChild(heading)
	pre := &html.Node{
		Type: html.ElementNode,
		Data: "pre",
	}
	msg := err.Error()
	if fragmentErr != nil {
		msg = fragmentErr.Message
	}
	pre.AppendChild(&html.Node{
		Type: html.TextNode,
		Data: msg,
	})
	panel.AppendChild(pre)

	var buf bytes.Buffer
	if err := html.Render(&buf, panel); err != nil {
		return html.EscapeString(msg)
	}
	return buf.String()
}
