package hosts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/reusee/studyboard/bridges"
	"github.com/reusee/studyboard/navs"
	"github.com/reusee/studyboard/sessions"
	"github.com/reusee/studyboard/studies"
)

const maxArchiveSize = 1 << 30

func (s *Server) jsonResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Trace string `json:"trace,omitempty"`
}

func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	body := errorBody{
		Error: err.Error(),
	}
	var bridgeErr *bridges.Error
	if errors.As(err, &bridgeErr) {
		body.Kind = bridgeErr.Kind.String()
		body.Trace = bridgeErr.RemoteTrace
	}
	s.jsonResponse(w, statusOf(err), body)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, sessions.ErrUnknownStudy):
		return http.StatusNotFound
	case errors.Is(err, sessions.ErrNotRunning),
		errors.Is(err, sessions.ErrNotDiscovered),
		errors.Is(err, bridges.ErrNotLoaded):
		return http.StatusConflict
	case errors.Is(err, bridges.ErrChannelClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, bridges.ErrApplication):
		return http.StatusUnprocessableEntity
	}
	var badRequest *badRequestError
	if errors.As(err, &badRequest) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type badRequestError struct {
	err error
}

func (b *badRequestError) Error() string {
	return b.err.Error()
}

func (b *badRequestError) Unwrap() error {
	return b.err
}

// decodeBody reads an optional JSON body, keeping integers exact.
func decodeBody(r *http.Request, target any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return &badRequestError{err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		return &badRequestError{err: fmt.Errorf("decode body: %w", err)}
	}
	return nil
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxArchiveSize))
	if err != nil {
		s.errorResponse(w, &badRequestError{err: err})
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "archive.h5"
	}
	hierarchy, err := s.Load(ctx, name, data)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.logger.InfoContext(ctx, "archive loaded", "name", name, "bytes", len(data))
	s.jsonResponse(w, http.StatusOK, hierarchy)
}

// Load replaces the archive, rediscovers and refreshes the working copy.
func (s *Server) Load(ctx context.Context, name string, data []byte) (studies.Hierarchy, error) {
	s.engine.End()
	s.mount(ctx, nil)
	if err := s.engine.Bridge().Load(ctx, name, data); err != nil {
		return nil, err
	}
	return s.Refresh(ctx)
}

// Refresh rediscovers the loaded archive and snapshots the working copy.
func (s *Server) Refresh(ctx context.Context) (studies.Hierarchy, error) {
	hierarchy, err := s.engine.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.copy.Snapshot(ctx); err != nil {
		return nil, err
	}
	return hierarchy, nil
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.engine.Bridge().Tree(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, tree)
}

func (s *Server) handleHierarchy(w http.ResponseWriter, r *http.Request) {
	hierarchy := s.engine.Hierarchy()
	if hierarchy == nil {
		hierarchy = studies.Hierarchy{}
	}
	s.jsonResponse(w, http.StatusOK, hierarchy)
}

type startedBody struct {
	StudyID     string         `json:"studyId"`
	StateID     string         `json:"stateId"`
	Args        map[string]any `json:"args"`
	HasFragment bool           `json:"hasFragment"`
	HTML        string         `json:"html,omitempty"`
}

func (s *Server) startedBody(running *sessions.Running) startedBody {
	return startedBody{
		StudyID:     running.StudyID,
		StateID:     running.StateID,
		Args:        running.Args,
		HasFragment: running.FragmentSource != "",
		HTML:        s.fragmentHTML(),
	}
}

// handleStudy serves /api/studies/{id}/{action}. Study ids contain slashes,
// so the action is the last segment.
func (s *Server) handleStudy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rest := r.PathValue("rest")
	idx := strings.LastIndexByte(rest, '/')
	if idx <= 0 {
		http.NotFound(w, r)
		return
	}
	studyID, action := rest[:idx], rest[idx+1:]

	switch action {

	case "validate":
		var args map[string]any
		if err := decodeBody(r, &args); err != nil {
			s.errorResponse(w, err)
			return
		}
		validated, err := s.engine.Validate(ctx, studyID, args)
		if err != nil {
			s.errorResponse(w, err)
			return
		}
		s.jsonResponse(w, http.StatusOK, map[string]any{
			"args": validated,
		})

	case "start":
		var args map[string]any
		if err := decodeBody(r, &args); err != nil {
			s.errorResponse(w, err)
			return
		}
		running, err := s.start(ctx, studyID, args)
		if err != nil {
			s.errorResponse(w, err)
			return
		}
		s.record(navs.State{
			StudyID: studyID,
			Args:    running.Args,
		})
		s.jsonResponse(w, http.StatusOK, s.startedBody(running))

	case "select":
		var args map[string]any
		if err := decodeBody(r, &args); err != nil {
			s.errorResponse(w, err)
			return
		}
		state := navs.State{
			StudyID: studyID,
			Args:    args,
		}
		sel := s.history.Push(state)
		outcome, err := s.selectStudy(ctx, sel)
		if err != nil {
			s.errorResponse(w, err)
			return
		}
		s.jsonResponse(w, http.StatusOK, s.outcomeBody(outcome))

	case "message":
		var data any
		if err := decodeBody(r, &data); err != nil {
			s.errorResponse(w, err)
			return
		}
		running := s.engine.Running()
		if running == nil || running.StudyID != studyID {
			s.errorResponse(w, sessions.ErrNotRunning)
			return
		}
		reply, err := s.engine.Message(ctx, data)
		if err != nil {
			s.errorResponse(w, err)
			return
		}
		s.jsonResponse(w, http.StatusOK, map[string]any{
			"reply": reply,
		})

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) outcomeBody(outcome sessions.Outcome) map[string]any {
	ret := map[string]any{
		"action": outcome.Action.String(),
		"policy": string(outcome.Policy),
	}
	if outcome.Running != nil {
		ret["running"] = s.startedBody(outcome.Running)
	}
	return ret
}

// record writes a started state into the history: a new entry for another
// study, a replacement for new arguments of the same one.
func (s *Server) record(state navs.State) {
	if s.history.Current().StudyID != state.StudyID {
		s.replacer.Flush()
		s.history.Push(state)
		return
	}
	s.replacer.Set(state)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	filename, data, err := s.engine.Bridge().Export(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": filename,
	}))
	w.Write(data)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	content, ok := s.copy.Read(r.PathValue("path"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(content)
}

func (s *Server) handleEditFile(w http.ResponseWriter, r *http.Request) {
	content, err := io.ReadAll(r.Body)
	if err != nil {
		s.errorResponse(w, &badRequestError{err: err})
		return
	}
	s.copy.Edit(r.PathValue("path"), content)
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"dirty": s.copy.Dirty(),
	})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	n, err := s.copy.Flush(r.Context())
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"flushed": n,
	})
}
