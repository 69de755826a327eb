package bridges

import (
	"context"
	"errors"
	"fmt"

	"github.com/reusee/studyboard/transports"
)

type ErrorKind uint8

const (
	// the sandbox is unreachable, every later call fails the same way
	ChannelClosed ErrorKind = iota + 1
	// a failure inside the sandbox or of the call itself, retrying may help
	Application
	// the call needs an archive and none is loaded
	NotLoaded
)

func (e ErrorKind) String() string {
	switch e {
	case ChannelClosed:
		return "channel closed"
	case Application:
		return "application"
	case NotLoaded:
		return "not loaded"
	}
	return fmt.Sprintf("ErrorKind(%d)", e)
}

// Error is the only error type returned by Bridge methods.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	// sandbox side trace, if any
	RemoteTrace string
	Err         error
}

var _ transports.Traced = new(Error)

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Op == "" && t.Message == ""
}

func (e *Error) Trace() string {
	return e.RemoteTrace
}

// sentinels for errors.Is
var (
	ErrChannelClosed = &Error{Kind: ChannelClosed}
	ErrApplication   = &Error{Kind: Application}
	ErrNotLoaded     = &Error{Kind: NotLoaded}
)

func wrapError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var bridgeErr *Error
	if errors.As(err, &bridgeErr) {
		return bridgeErr
	}
	if errors.Is(err, transports.ErrChannelClosed) {
		return &Error{
			Kind:    ChannelClosed,
			Op:      op,
			Message: "sandbox unreachable",
			Err:     err,
		}
	}
	var remoteErr *transports.RemoteError
	if errors.As(err, &remoteErr) {
		return &Error{
			Kind:        Application,
			Op:          op,
			Message:     remoteErr.Message,
			RemoteTrace: remoteErr.Trace,
			Err:         err,
		}
	}
	msg := err.Error()
	if errors.Is(err, context.Canceled) {
		msg = "canceled"
	} else if errors.Is(err, context.DeadlineExceeded) {
		msg = "timed out"
	}
	return &Error{
		Kind:    Application,
		Op:      op,
		Message: msg,
		Err:     err,
	}
}
