package hosts

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/reusee/studyboard/boardconfigs"
	"github.com/reusee/studyboard/fragments"
	"github.com/reusee/studyboard/logs"
	"github.com/reusee/studyboard/navs"
	"github.com/reusee/studyboard/sessions"
	"github.com/reusee/studyboard/workcopies"
)

// Server is the host page and its API over one study engine.
type Server struct {
	engine   *sessions.Engine
	loader   *fragments.Loader
	copy     *workcopies.Copy
	logger   logs.Logger
	newSpan  logs.NewSpan
	history  *navs.History
	replacer *navs.Replacer

	lock        sync.Mutex
	instance    *fragments.Instance
	fragmentErr error
	startErr    error
	lastAction  sessions.Action
	visited     bool
	watchers    map[int]chan struct{}
	nextWatcher int

	removePush func()
}

type NewServer func(engine *sessions.Engine) *Server

func (Module) NewServer(
	loader *fragments.Loader,
	newCopy workcopies.NewCopy,
	newReplacer navs.NewReplacer,
	logger logs.Logger,
	newSpan logs.NewSpan,
) NewServer {
	return func(engine *sessions.Engine) *Server {
		history := navs.NewHistory(navs.State{})
		s := &Server{
			engine:   engine,
			loader:   loader,
			copy:     newCopy(engine.Bridge()),
			logger:   logger,
			newSpan:  newSpan,
			history:  history,
			replacer: newReplacer(history),
			watchers: make(map[int]chan struct{}),
		}
		s.removePush = engine.OnPush(s.push)
		return s
	}
}

func (s *Server) push(data any) {
	s.lock.Lock()
	instance := s.instance
	s.lock.Unlock()
	if instance != nil {
		instance.Push(data)
	}
}

// Handler routes the page, the API and the fragment socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// page
	mux.HandleFunc("GET /{$}", s.handlePage)
	mux.HandleFunc("POST /start", s.handleStartForm)
	mux.HandleFunc("POST /back", s.handleBack)
	mux.HandleFunc("POST /forward", s.handleForward)

	// api
	mux.HandleFunc("POST /api/load", s.handleLoad)
	mux.HandleFunc("GET /api/tree", s.handleTree)
	mux.HandleFunc("GET /api/hierarchy", s.handleHierarchy)
	mux.HandleFunc("POST /api/studies/{rest...}", s.handleStudy)
	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.HandleFunc("GET /api/files/{path...}", s.handleReadFile)
	mux.HandleFunc("PUT /api/files/{path...}", s.handleEditFile)
	mux.HandleFunc("POST /api/flush", s.handleFlush)

	// websocket
	mux.HandleFunc("GET /api/fragment", s.handleFragmentSocket)

	return s.withSpan(mux)
}

func (s *Server) withSpan(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, _ := s.newSpan(r.Context(), "",
			"method", r.Method,
			"path", r.URL.Path,
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Serve serves on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr boardconfigs.ListenAddr) error {
	ln, err := net.Listen("tcp", string(addr))
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()
	s.logger.InfoContext(ctx, "serving", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close ends the fragment and the pending history edit.
func (s *Server) Close() {
	s.removePush()
	s.replacer.Stop()
	s.lock.Lock()
	instance := s.instance
	s.instance = nil
	s.lock.Unlock()
	if instance != nil {
		instance.Close()
	}
}

// mount replaces the current fragment with the one of running.
func (s *Server) mount(ctx context.Context, running *sessions.Running) {
	var instance *fragments.Instance
	var err error
	if running != nil && running.FragmentSource != "" {
		instance, err = s.loader.Load(ctx, running.FragmentSource, fragments.Props{
			StudyID: running.StudyID,
			StateID: running.StateID,
			Args:    running.Args,
			Send:    s.engine.Message,
		})
		if err != nil {
			s.logger.WarnContext(ctx, "fragment failed",
				"study", running.StudyID,
				"error", err,
			)
		}
	}

	s.lock.Lock()
	old := s.instance
	s.instance = instance
	s.fragmentErr = err
	s.lock.Unlock()
	if old != nil {
		old.Close()
	}
	if instance != nil {
		instance.OnChange(func(string) {
			s.notify()
		})
	}
	s.notify()
}

// fragmentHTML is the markup shown in the fragment area.
func (s *Server) fragmentHTML() string {
	s.lock.Lock()
	instance := s.instance
	err := s.fragmentErr
	s.lock.Unlock()
	if err != nil {
		return fragments.ErrorPanel(err)
	}
	if instance != nil {
		return instance.HTML()
	}
	return ""
}

func (s *Server) currentInstance() *fragments.Instance {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.instance
}

// watch returns a channel signaled when the fragment area changes.
func (s *Server) watch() (<-chan struct{}, func()) {
	s.lock.Lock()
	defer s.lock.Unlock()
	id := s.nextWatcher
	s.nextWatcher++
	ch := make(chan struct{}, 1)
	s.watchers[id] = ch
	return ch, func() {
		s.lock.Lock()
		defer s.lock.Unlock()
		delete(s.watchers, id)
	}
}

func (s *Server) notify() {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// selectStudy applies a selection and mounts what it started.
func (s *Server) selectStudy(ctx context.Context, sel sessions.Selection) (sessions.Outcome, error) {
	outcome, err := s.engine.Select(ctx, sel)
	s.lock.Lock()
	s.startErr = err
	s.lastAction = outcome.Action
	s.lock.Unlock()
	if err != nil {
		return outcome, err
	}
	if outcome.Running != nil {
		s.mount(ctx, outcome.Running)
	}
	return outcome, nil
}

// start runs a study with args and mounts its fragment.
func (s *Server) start(ctx context.Context, studyID string, args map[string]any) (*sessions.Running, error) {
	running, err := s.engine.Start(ctx, studyID, args)
	s.lock.Lock()
	s.startErr = err
	s.lastAction = sessions.ActionNone
	s.lock.Unlock()
	if err != nil {
		return nil, err
	}
	s.mount(ctx, running)
	return running, nil
}
