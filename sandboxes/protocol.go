package sandboxes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/reusee/studyboard/protocols"
	"github.com/reusee/studyboard/studies"
	"github.com/reusee/studyboard/transports"
	"go.starlark.net/starlark"
)

var (
	ErrNotDiscovered = errors.New("studies not discovered")
	ErrUnknownStudy  = errors.New("unknown study")
)

// ValidationError is a verdict with ok false.
type ValidationError struct {
	StudyID string
	Message string
}

func (v *ValidationError) Error() string {
	return v.Message
}

// ContractError is a hook result of the wrong shape.
type ContractError struct {
	Hook   string
	Reason string
}

func (c *ContractError) Error() string {
	return fmt.Sprintf("%s hook: %s", c.Hook, c.Reason)
}

func (r *Runtime) lookupStudy(studyID string) (*studyEntry, error) {
	if r.studies == nil || r.archive == nil {
		return nil, ErrNotDiscovered
	}
	entry, ok := r.studies.entries[studyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStudy, studyID)
	}
	return entry, nil
}

func (r *Runtime) validate(ctx context.Context, studyID string, raw map[string]any) (map[string]any, error) {
	entry, err := r.lookupStudy(studyID)
	if err != nil {
		return nil, err
	}
	args, err := entry.schema.Coerce(raw)
	if err != nil {
		return nil, err
	}
	if !entry.Has(CanValidate) {
		return args, nil
	}

	thread, stop := r.newThread(ctx, "validate "+studyID, r.newLoader(ctx))
	defer stop()
	result, err := starlark.Call(thread, entry.validate, starlark.Tuple{
		archiveValue(r.archive),
		dictToStarlark(args),
	}, nil)
	if err != nil {
		return nil, scriptError(err)
	}
	verdict, err := parseVerdict(result)
	if err != nil {
		return nil, err
	}
	if !verdict.OK {
		return nil, &ValidationError{
			StudyID: studyID,
			Message: verdict.Message,
		}
	}
	return args, nil
}

func parseVerdict(value starlark.Value) (ret studies.Verdict, err error) {
	ok, isBool := field(value, "ok").(starlark.Bool)
	if !isBool {
		return ret, &ContractError{
			Hook:   "validate",
			Reason: fmt.Sprintf("want {ok: bool, message?: string}, got %s", value.String()),
		}
	}
	ret.OK = bool(ok)
	if msg := field(value, "message"); msg != nil && msg != starlark.None {
		s, isString := starlark.AsString(msg)
		if !isString {
			return ret, &ContractError{
				Hook:   "validate",
				Reason: fmt.Sprintf("message must be a string, got %s", msg.Type()),
			}
		}
		ret.Message = s
	}
	if !ret.OK && ret.Message == "" {
		ret.Message = "invalid arguments"
	}
	return ret, nil
}

// start runs the start hook and registers the state under a fresh id, with
// or without a fragment.
func (r *Runtime) start(ctx context.Context, studyID string, raw map[string]any) (ret studies.StartResult, err error) {
	entry, err := r.lookupStudy(studyID)
	if err != nil {
		return ret, err
	}
	args, err := entry.schema.Coerce(raw)
	if err != nil {
		return ret, err
	}

	var state starlark.Value = starlark.None
	if entry.Has(CanStart) {
		thread, stop := r.newThread(ctx, "start "+studyID, r.newLoader(ctx))
		defer stop()
		result, err := starlark.Call(thread, entry.start, starlark.Tuple{
			archiveValue(r.archive),
			dictToStarlark(args),
		}, nil)
		if err != nil {
			return ret, scriptError(err)
		}
		state = result
		if pair, ok := result.(starlark.Tuple); ok && len(pair) == 2 {
			state = pair[0]
			switch src := pair[1].(type) {
			case starlark.String:
				ret.FragmentSource = string(src)
			case starlark.NoneType:
			default:
				return ret, &ContractError{
					Hook:   "start",
					Reason: fmt.Sprintf("fragment source must be a string, got %s", src.Type()),
				}
			}
		}
	}

	ret.StateID = uuid.NewString()
	r.states.entries[ret.StateID] = &stateEntry{
		studyID: studyID,
		value:   state,
	}
	r.logger.InfoContext(ctx, "study started",
		"study", studyID,
		"state", ret.StateID,
		"fragment", ret.FragmentSource != "",
	)
	return ret, nil
}

// message is a no-op when the study, its hook or the state is missing.
func (r *Runtime) message(ctx context.Context, payload protocols.Message, push transports.Pusher) (any, error) {
	entry, err := r.lookupStudy(payload.StudyID)
	if err != nil || !entry.Has(CanMessage) {
		return nil, nil
	}
	state, ok := r.states.entries[payload.StateID]
	if !ok || state.studyID != payload.StudyID {
		return nil, nil
	}

	var data any
	if len(payload.Data) > 0 {
		decoder := json.NewDecoder(bytes.NewReader(payload.Data))
		decoder.UseNumber()
		if err := decoder.Decode(&data); err != nil {
			return nil, fmt.Errorf("bad message data: %w", err)
		}
	}

	thread, stop := r.newThread(ctx, "message "+payload.StudyID, r.newLoader(ctx))
	defer stop()
	result, err := starlark.Call(thread, entry.message, starlark.Tuple{
		archiveValue(r.archive),
		pushBuiltin(ctx, push, payload.StudyID, payload.StateID),
		state.value,
		toStarlarkValue(data),
	}, nil)
	if err != nil {
		return nil, scriptError(err)
	}
	return fromStarlarkValue(result), nil
}
