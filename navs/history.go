package navs

import (
	"sync"

	"github.com/reusee/studyboard/sessions"
)

// History is a browser-like stack of states. Moving through it yields
// selections with the origin the study engine needs to decide auto-run.
type History struct {
	lock    sync.Mutex
	entries []State
	index   int
}

// NewHistory starts a history at the initially loaded state.
func NewHistory(initial State) *History {
	return &History{
		entries: []State{initial},
	}
}

func selection(state State, origin sessions.Origin) sessions.Selection {
	return sessions.Selection{
		StudyID: state.StudyID,
		Args:    state.Args,
		Origin:  origin,
	}
}

// Initial returns the selection of the initial load.
func (h *History) Initial() sessions.Selection {
	h.lock.Lock()
	defer h.lock.Unlock()
	return selection(h.entries[0], sessions.OriginInitial)
}

func (h *History) Current() State {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.entries[h.index]
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.entries)
}

// Push records a state chosen by the user, dropping forward entries.
func (h *History) Push(state State) sessions.Selection {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.entries[h.index].Equal(state) {
		return selection(state, sessions.OriginUser)
	}
	h.entries = append(h.entries[:h.index+1], state)
	h.index++
	return selection(state, sessions.OriginUser)
}

// Replace overwrites the current entry.
func (h *History) Replace(state State) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.entries[h.index] = state
}

func (h *History) Back() (sessions.Selection, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.index == 0 {
		return sessions.Selection{}, false
	}
	h.index--
	return selection(h.entries[h.index], sessions.OriginHistory), true
}

func (h *History) Forward() (sessions.Selection, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.index == len(h.entries)-1 {
		return sessions.Selection{}, false
	}
	h.index++
	return selection(h.entries[h.index], sessions.OriginHistory), true
}

// Visit records a state requested by address. A state equal to the entry
// just behind or ahead of the current one is a browser back or forward and
// moves the index with the history origin. Anything else is pushed.
func (h *History) Visit(state State) sessions.Selection {
	h.lock.Lock()
	if h.entries[h.index].Equal(state) {
		h.lock.Unlock()
		return selection(state, sessions.OriginUser)
	}
	if h.index > 0 && h.entries[h.index-1].Equal(state) {
		h.index--
		h.lock.Unlock()
		return selection(state, sessions.OriginHistory)
	}
	if h.index < len(h.entries)-1 && h.entries[h.index+1].Equal(state) {
		h.index++
		h.lock.Unlock()
		return selection(state, sessions.OriginHistory)
	}
	h.lock.Unlock()
	return h.Push(state)
}
