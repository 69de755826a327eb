package navs

import (
	"sync"
	"time"

	"github.com/reusee/studyboard/boardconfigs"
	"github.com/reusee/studyboard/logs"
)

// Replacer coalesces argument edits into one history replacement after a
// quiet period.
type Replacer struct {
	history *History
	delay   time.Duration
	logger  logs.Logger

	lock    sync.Mutex
	timer   *time.Timer
	pending *State
}

type NewReplacer func(history *History) *Replacer

func (Module) NewReplacer(
	delay boardconfigs.ReplaceDelay,
	logger logs.Logger,
) NewReplacer {
	return func(history *History) *Replacer {
		return &Replacer{
			history: history,
			delay:   time.Duration(delay),
			logger:  logger,
		}
	}
}

// Set schedules state to replace the current entry, restarting the quiet
// period.
func (r *Replacer) Set(state State) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.pending = &state
	if r.delay <= 0 {
		r.flushLocked()
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.delay, r.Flush)
}

// Flush applies the pending state now.
func (r *Replacer) Flush() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.flushLocked()
}

func (r *Replacer) flushLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.pending == nil {
		return
	}
	r.history.Replace(*r.pending)
	r.logger.Debug("history replaced", "study", r.pending.StudyID)
	r.pending = nil
}

// Pending reports whether an edit waits for the quiet period.
func (r *Replacer) Pending() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.pending != nil
}

// Stop drops the pending state.
func (r *Replacer) Stop() {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.pending = nil
}
