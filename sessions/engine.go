package sessions

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/reusee/studyboard/bridges"
	"github.com/reusee/studyboard/logs"
	"github.com/reusee/studyboard/studies"
)

var (
	ErrUnknownStudy  = errors.New("unknown study")
	ErrNotRunning    = errors.New("no study running")
	ErrNotDiscovered = errors.New("studies not discovered")
)

// Running is the study currently started in this session.
type Running struct {
	StudyID        string
	StateID        string
	FragmentSource string
	Args           map[string]any
}

// Engine drives the discover, validate, start and message protocol over a
// bridge. Each step awaits its response before the dependent one is sent.
type Engine struct {
	bridge *bridges.Bridge
	logger logs.Logger

	lock      sync.Mutex
	hierarchy studies.Hierarchy
	phases    map[string]Phase
	running   *Running
	detach    func()
	pushers   []func(data any)

	selected string
	handled  bool
	override studies.AutoRun
}

type NewEngine func(bridge *bridges.Bridge) *Engine

func (Module) NewEngine(
	logger logs.Logger,
) NewEngine {
	return func(bridge *bridges.Bridge) *Engine {
		return &Engine{
			bridge: bridge,
			logger: logger,
			phases: make(map[string]Phase),
		}
	}
}

func (e *Engine) Bridge() *bridges.Bridge {
	return e.bridge
}

// Discover mounts the mirror and rebuilds the hierarchy. Studies not running
// go back to discovered.
func (e *Engine) Discover(ctx context.Context) (studies.Hierarchy, error) {
	if _, err := e.bridge.Mount(ctx); err != nil {
		return nil, err
	}
	hierarchy, err := e.bridge.Hierarchy(ctx)
	if err != nil {
		return nil, err
	}

	e.lock.Lock()
	defer e.lock.Unlock()
	e.hierarchy = hierarchy
	phases := make(map[string]Phase)
	for study := range hierarchy.Studies() {
		phases[study.ID] = PhaseDiscovered
		if e.running != nil && e.running.StudyID == study.ID {
			phases[study.ID] = PhaseRunning
		}
	}
	e.phases = phases
	dirs, n := hierarchy.Count()
	e.logger.InfoContext(ctx, "discovered",
		"directories", dirs,
		"studies", n,
	)
	return hierarchy, nil
}

func (e *Engine) Hierarchy() studies.Hierarchy {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.hierarchy
}

func (e *Engine) Phase(studyID string) Phase {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.phases[studyID]
}

// Running returns the running study, nil if none.
func (e *Engine) Running() *Running {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.running == nil {
		return nil
	}
	ret := *e.running
	return &ret
}

func (e *Engine) study(studyID string) (*studies.Node, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.hierarchy == nil {
		return nil, ErrNotDiscovered
	}
	study := e.hierarchy.Find(studyID)
	if study == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStudy, studyID)
	}
	return study, nil
}

func (e *Engine) setPhase(studyID string, phase Phase) {
	e.lock.Lock()
	e.phases[studyID] = phase
	e.lock.Unlock()
}

// settle restores the phase a failed step started from.
func (e *Engine) settle(studyID string) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.running != nil && e.running.StudyID == studyID {
		e.phases[studyID] = PhaseRunning
	} else {
		e.phases[studyID] = PhaseDiscovered
	}
}

// Validate returns the coerced arguments.
func (e *Engine) Validate(ctx context.Context, studyID string, args map[string]any) (map[string]any, error) {
	if _, err := e.study(studyID); err != nil {
		return nil, err
	}
	e.setPhase(studyID, PhaseValidating)
	ret, err := e.bridge.Validate(ctx, studyID, args)
	e.settle(studyID)
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// Start validates then starts the study, ending the one running before.
func (e *Engine) Start(ctx context.Context, studyID string, args map[string]any) (*Running, error) {
	validated, err := e.Validate(ctx, studyID, args)
	if err != nil {
		return nil, err
	}

	e.setPhase(studyID, PhaseStarting)
	started, err := e.bridge.Start(ctx, studyID, validated)
	if err != nil {
		e.settle(studyID)
		return nil, err
	}

	e.End()

	running := &Running{
		StudyID:        studyID,
		StateID:        started.StateID,
		FragmentSource: started.FragmentSource,
		Args:           maps.Clone(validated),
	}
	detach := e.bridge.Subscribe(studyID, started.StateID, e.dispatchPush)

	e.lock.Lock()
	e.running = running
	e.detach = detach
	e.phases[studyID] = PhaseRunning
	e.lock.Unlock()

	e.logger.InfoContext(ctx, "study running",
		"study", studyID,
		"state", started.StateID,
		"fragment", started.FragmentSource != "",
	)
	ret := *running
	return &ret, nil
}

// Message sends data to the running study.
func (e *Engine) Message(ctx context.Context, data any) (any, error) {
	e.lock.Lock()
	running := e.running
	e.lock.Unlock()
	if running == nil {
		return nil, ErrNotRunning
	}
	return e.bridge.Message(ctx, running.StudyID, running.StateID, data)
}

// OnPush registers fn for pushes of whatever study is running. It returns a
// function that unregisters it.
func (e *Engine) OnPush(fn func(data any)) (remove func()) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.pushers = append(e.pushers, fn)
	idx := len(e.pushers) - 1
	return func() {
		e.lock.Lock()
		defer e.lock.Unlock()
		e.pushers[idx] = nil
	}
}

func (e *Engine) dispatchPush(data any) {
	e.lock.Lock()
	pushers := make([]func(any), 0, len(e.pushers))
	for _, fn := range e.pushers {
		if fn != nil {
			pushers = append(pushers, fn)
		}
	}
	e.lock.Unlock()
	for _, fn := range pushers {
		fn(data)
	}
}

// End forgets the running study and detaches its push handler. The sandbox
// keeps the state.
func (e *Engine) End() {
	e.lock.Lock()
	running := e.running
	detach := e.detach
	e.running = nil
	e.detach = nil
	if running != nil {
		e.phases[running.StudyID] = PhaseEnded
	}
	e.lock.Unlock()
	if detach != nil {
		detach()
	}
	if running != nil {
		e.logger.Info("study ended",
			"study", running.StudyID,
			"state", running.StateID,
		)
	}
}
