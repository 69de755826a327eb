package sessions

import "fmt"

// Phase is the lifecycle position of a study in this session.
type Phase uint8

const (
	PhaseUnknown Phase = iota
	PhaseDiscovered
	PhaseValidating
	PhaseStarting
	PhaseRunning
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseUnknown:
		return "unknown"
	case PhaseDiscovered:
		return "discovered"
	case PhaseValidating:
		return "validating"
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseEnded:
		return "ended"
	}
	return fmt.Sprintf("Phase(%d)", p)
}

// Origin tells how a selection came about.
type Origin uint8

const (
	OriginInitial Origin = iota + 1
	OriginUser
	// back or forward navigation
	OriginHistory
)

func (o Origin) String() string {
	switch o {
	case OriginInitial:
		return "initial"
	case OriginUser:
		return "user"
	case OriginHistory:
		return "history"
	}
	return fmt.Sprintf("Origin(%d)", o)
}

// Action is what a selection asks of the caller.
type Action uint8

const (
	// nothing, wait for an explicit start
	ActionNone Action = iota
	// the study was started
	ActionRun
	// ask for arguments before starting
	ActionPrompt
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionRun:
		return "run"
	case ActionPrompt:
		return "prompt"
	}
	return fmt.Sprintf("Action(%d)", a)
}
