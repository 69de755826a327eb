package hosts

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/reusee/studyboard/navs"
	"github.com/reusee/studyboard/sessions"
	"github.com/reusee/studyboard/studies"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// argPrefix prefixes form fields holding study arguments.
const argPrefix = "arg."

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	decoded, err := navs.Decode(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if decoded.Override != "" {
		// consumed here, the redirect drops it from the address
		s.engine.SetOverride(decoded.Override)
		s.logger.InfoContext(ctx, "auto-run override", "policy", string(decoded.Override))
		s.lock.Lock()
		visited := s.visited
		s.lock.Unlock()
		if visited && decoded.State.StudyID != "" {
			// recorded now so the redirected request is not taken for a back
			s.history.Push(decoded.State)
		}
		http.Redirect(w, r, pageURL(decoded.Visible), http.StatusSeeOther)
		return
	}

	s.lock.Lock()
	initial := !s.visited
	s.visited = true
	s.lock.Unlock()

	state := decoded.State
	if state.StudyID != "" && state.StudyID != s.engine.Selected() {
		var sel sessions.Selection
		if initial {
			s.history.Replace(state)
			sel = s.history.Initial()
		} else {
			sel = s.history.Visit(state)
		}
		// the error is shown on the page
		s.selectStudy(ctx, sel)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, s.page(state)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte("<!DOCTYPE html>\n"))
	w.Write(buf.Bytes())
}

func pageURL(query url.Values) string {
	if len(query) == 0 {
		return "/"
	}
	return "/?" + query.Encode()
}

func stateURL(state navs.State) string {
	query, err := state.Query(nil)
	if err != nil {
		return "/"
	}
	return pageURL(query)
}

func (s *Server) handleStartForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	studyID := r.PostForm.Get("study")
	args := make(map[string]any)
	for key, values := range r.PostForm {
		if name, ok := strings.CutPrefix(key, argPrefix); ok && len(values) > 0 {
			args[name] = values[0]
		}
	}
	state := navs.State{
		StudyID: studyID,
		Args:    args,
	}
	if running, err := s.start(r.Context(), studyID, args); err == nil {
		state.Args = running.Args
	}
	s.record(state)
	s.replacer.Flush()
	http.Redirect(w, r, stateURL(state), http.StatusSeeOther)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	s.navigate(w, r, s.history.Back)
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	s.navigate(w, r, s.history.Forward)
}

func (s *Server) navigate(w http.ResponseWriter, r *http.Request, move func() (sessions.Selection, bool)) {
	s.replacer.Flush()
	sel, ok := move()
	if ok && sel.StudyID != "" {
		s.selectStudy(r.Context(), sel)
	}
	http.Redirect(w, r, stateURL(s.history.Current()), http.StatusSeeOther)
}

// node builders

func elem(tag atom.Atom, attrs ...string) *html.Node {
	node := &html.Node{
		Type:     html.ElementNode,
		DataAtom: tag,
		Data:     tag.String(),
	}
	for i := 0; i+1 < len(attrs); i += 2 {
		node.Attr = append(node.Attr, html.Attribute{
			Key: attrs[i],
			Val: attrs[i+1],
		})
	}
	return node
}

func text(s string) *html.Node {
	return &html.Node{
		Type: html.TextNode,
		Data: s,
	}
}

func appendAll(parent *html.Node, children ...*html.Node) *html.Node {
	for _, child := range children {
		if child != nil {
			parent.AppendChild(child)
		}
	}
	return parent
}

// rawInto parses trusted markup into parent.
func rawInto(parent *html.Node, markup string) {
	if markup == "" {
		return
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), parent)
	if err != nil {
		parent.AppendChild(text(markup))
		return
	}
	for _, node := range nodes {
		parent.AppendChild(node)
	}
}

func (s *Server) page(state navs.State) *html.Node {
	doc := elem(atom.Html, "lang", "en")
	head := appendAll(elem(atom.Head),
		elem(atom.Meta, "charset", "utf-8"),
		appendAll(elem(atom.Title), text("studyboard")),
		appendAll(elem(atom.Style), text(pageStyle)),
	)
	body := elem(atom.Body)
	appendAll(doc, head, body)

	appendAll(body, s.header())

	layout := elem(atom.Div, "class", "layout")
	nav := appendAll(elem(atom.Nav, "class", "hierarchy"),
		s.hierarchyList(s.engine.Hierarchy(), state.StudyID),
	)
	main := elem(atom.Main)
	appendAll(layout, nav, main)
	appendAll(body, layout)

	if state.StudyID != "" {
		s.studyView(main, state)
	} else {
		appendAll(main, appendAll(elem(atom.P, "class", "hint"), text("Select a study.")))
	}

	fragment := elem(atom.Div, "id", "fragment")
	rawInto(fragment, s.fragmentHTML())
	appendAll(main, fragment)

	appendAll(body, appendAll(elem(atom.Script), text(pageScript)))
	return doc
}

func (s *Server) header() *html.Node {
	header := elem(atom.Header)
	title := "no archive loaded"
	if loaded, name := s.engine.Bridge().Loaded(); loaded {
		title = name
	}
	appendAll(header,
		appendAll(elem(atom.Strong), text(title)),
		appendAll(elem(atom.Form, "method", "post", "action", "/back"),
			appendAll(elem(atom.Button, "type", "submit"), text("Back")),
		),
		appendAll(elem(atom.Form, "method", "post", "action", "/forward"),
			appendAll(elem(atom.Button, "type", "submit"), text("Forward")),
		),
		appendAll(elem(atom.A, "href", "/api/export"), text("Export")),
	)
	return header
}

func (s *Server) hierarchyList(nodes studies.Hierarchy, selected string) *html.Node {
	if len(nodes) == 0 {
		return appendAll(elem(atom.P, "class", "hint"), text("No studies."))
	}
	list := elem(atom.Ul)
	for _, node := range nodes {
		item := elem(atom.Li)
		if node.Kind == studies.KindStudy {
			class := "study"
			if node.ID == selected {
				class += " selected"
			}
			appendAll(item, appendAll(
				elem(atom.A, "class", class, "href", stateURL(navs.State{StudyID: node.ID})),
				text(node.Name),
			))
		} else {
			appendAll(item,
				appendAll(elem(atom.Span, "class", "directory"), text(node.Name)),
				s.hierarchyList(node.Children, selected),
			)
		}
		list.AppendChild(item)
	}
	return list
}

func (s *Server) studyView(main *html.Node, state navs.State) {
	study := s.engine.Hierarchy().Find(state.StudyID)
	appendAll(main, appendAll(elem(atom.H2), text(state.StudyID)))

	s.lock.Lock()
	startErr := s.startErr
	action := s.lastAction
	s.lock.Unlock()

	if study == nil {
		appendAll(main, appendAll(elem(atom.P, "class", "error"), text("Unknown study.")))
		return
	}
	appendAll(main, appendAll(elem(atom.P, "class", "phase"),
		text("phase: "+s.engine.Phase(study.ID).String()),
	))

	if study.Description != "" {
		description := elem(atom.Div, "class", "description")
		if markup, err := studies.DescriptionHTML(study.Description); err == nil {
			rawInto(description, markup)
		} else {
			appendAll(description, text(study.Description))
		}
		appendAll(main, description)
	}

	if action == sessions.ActionPrompt {
		appendAll(main, appendAll(elem(atom.P, "class", "prompt"),
			text("Review the arguments and run the study."),
		))
	}

	form := elem(atom.Form, "method", "post", "action", "/start", "class", "args")
	appendAll(form, elem(atom.Input, "type", "hidden", "name", "study", "value", study.ID))
	values := argValues(study.Args, state.Args)
	for _, field := range study.Args {
		label := appendAll(elem(atom.Label), text(field.Name+" "))
		name := argPrefix + field.Name
		if field.Type == studies.ArgEnum {
			sel := elem(atom.Select, "name", name)
			for _, v := range field.Values {
				option := elem(atom.Option, "value", v)
				if v == values[field.Name] {
					option.Attr = append(option.Attr, html.Attribute{Key: "selected"})
				}
				appendAll(sel, appendAll(option, text(v)))
			}
			appendAll(label, sel)
		} else {
			appendAll(label, elem(atom.Input,
				"type", "text",
				"name", name,
				"value", values[field.Name],
				"data-type", string(field.Type),
			))
		}
		appendAll(form, label)
	}
	appendAll(form, appendAll(elem(atom.Button, "type", "submit"), text("Run")))
	appendAll(main, form)

	if startErr != nil {
		appendAll(main, appendAll(elem(atom.Pre, "class", "error", "role", "alert"),
			text(startErr.Error()),
		))
	}
}

// argValues are the form values: defaults overridden by the state.
func argValues(schema studies.Schema, args map[string]any) map[string]string {
	ret := make(map[string]string, len(schema))
	for _, field := range schema {
		value := field.Default
		if v, ok := args[field.Name]; ok && v != nil {
			value = v
		}
		if value != nil {
			ret[field.Name] = fmt.Sprint(value)
		}
	}
	return ret
}

const pageStyle = `
body { font-family: sans-serif; margin: 0; }
header { display: flex; gap: 1em; align-items: center; padding: .5em 1em; border-bottom: 1px solid #ccc; }
header form { margin: 0; }
.layout { display: flex; }
nav.hierarchy { min-width: 14em; padding: 1em; border-right: 1px solid #ccc; }
nav ul { list-style: none; padding-left: 1em; }
a.selected { font-weight: bold; }
main { padding: 1em; flex: 1; }
form.args label { display: block; margin: .3em 0; }
.error { color: #b00; }
.fragment-error { border: 1px solid #b00; padding: .5em; }
.widget-plot polyline { stroke: #36c; stroke-width: 2; }
`

const pageScript = `
(function () {
  var area = document.getElementById("fragment");
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var socket = new WebSocket(proto + location.host + "/api/fragment");
  socket.onmessage = function (e) {
    var msg = JSON.parse(e.data);
    if (msg.html !== undefined) {
      area.innerHTML = msg.html;
    }
    if (msg.error) {
      console.error(msg.error);
    }
  };
  function relay(type) {
    area.addEventListener(type, function (e) {
      var target = e.target.closest("[data-on-" + type + "]");
      if (!target) {
        return;
      }
      socket.send(JSON.stringify({
        handler: target.getAttribute("data-on-" + type),
        value: e.target.value,
        checked: !!e.target.checked
      }));
    });
  }
  ["click", "change", "input", "submit"].forEach(relay);
})();
`
