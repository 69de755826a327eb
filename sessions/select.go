package sessions

import (
	"context"

	"github.com/reusee/studyboard/studies"
)

type Selection struct {
	StudyID string
	Args    map[string]any
	Origin  Origin
}

type Outcome struct {
	Action Action
	// the policy applied, empty when suppressed or already handled
	Policy  studies.AutoRun
	Running *Running
}

// SetOverride sets a policy that replaces the auto-run policy of the next
// selection. A selection from history discards it.
func (e *Engine) SetOverride(policy studies.AutoRun) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.override = policy
}

// Select makes studyID the current selection and applies its auto-run
// policy once. Selecting another study ends the running one. History
// navigation never triggers auto-run.
func (e *Engine) Select(ctx context.Context, sel Selection) (ret Outcome, err error) {
	study, err := e.study(sel.StudyID)
	if err != nil {
		return ret, err
	}

	e.lock.Lock()
	changed := e.selected != sel.StudyID
	if changed {
		e.selected = sel.StudyID
		e.handled = false
	}
	e.lock.Unlock()
	if changed {
		e.End()
	}

	e.lock.Lock()
	if e.handled {
		e.lock.Unlock()
		return ret, nil
	}
	e.handled = true
	// the override belongs to this selection even when it is suppressed
	override := e.override
	e.override = ""
	if sel.Origin == OriginHistory {
		e.lock.Unlock()
		e.logger.DebugContext(ctx, "auto-run suppressed", "study", sel.StudyID)
		return ret, nil
	}
	policy := study.AutoRun
	if override != "" {
		policy = override
	}
	e.lock.Unlock()

	ret.Policy = policy
	switch policy {

	case studies.AutoRunAlways:
		ret.Running, err = e.Start(ctx, sel.StudyID, sel.Args)
		if err != nil {
			return ret, err
		}
		ret.Action = ActionRun

	case studies.AutoRunPrompt:
		ret.Action = ActionPrompt

	}

	e.logger.InfoContext(ctx, "study selected",
		"study", sel.StudyID,
		"origin", sel.Origin.String(),
		"policy", string(policy),
		"action", ret.Action.String(),
	)
	return ret, nil
}

// Selected returns the id of the current selection.
func (e *Engine) Selected() string {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.selected
}
