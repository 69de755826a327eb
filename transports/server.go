package transports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/reusee/studyboard/logs"
)

type Request struct {
	ID      uint64
	Type    string
	Payload json.RawMessage
	Blob    []byte
}

// Decode unmarshals the payload into target. An absent payload leaves target
// untouched. Numbers in untyped fields decode as json.Number.
func (r Request) Decode(target any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(r.Payload))
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("bad %s payload: %w", r.Type, err)
	}
	return nil
}

type Reply struct {
	Data any
	Blob []byte
}

// Pusher sends a push notification tagged with the pair.
type Pusher func(ctx context.Context, subjectID, stateID string, data any) error

type Handler interface {
	Handle(ctx context.Context, req Request, push Pusher) (Reply, error)
}

type HandlerFunc func(ctx context.Context, req Request, push Pusher) (Reply, error)

var _ Handler = HandlerFunc(nil)

func (h HandlerFunc) Handle(ctx context.Context, req Request, push Pusher) (Reply, error) {
	return h(ctx, req, push)
}

// PanicError is a recovered handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

var _ Traced = new(PanicError)

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

func (p *PanicError) Trace() string {
	return string(p.Stack)
}

// Serve executes requests from conn one at a time until the channel closes.
func Serve(ctx context.Context, conn Conn, handler Handler, logger logs.Logger) error {
	push := func(ctx context.Context, subjectID, stateID string, data any) error {
		bs, err := json.Marshal(data)
		if err != nil {
			return err
		}
		return conn.Send(ctx, &Message{
			Type:      TypePush,
			SubjectID: subjectID,
			StateID:   stateID,
			Data:      bs,
		})
	}

	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrChannelClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if msg.Kind() != KindRequest {
			logger.Warn("not a request", "id", msg.ID, "type", msg.Type)
			continue
		}

		resp := handle(ctx, handler, Request{
			ID:      msg.ID,
			Type:    msg.Type,
			Payload: msg.Payload,
			Blob:    msg.Blob,
		}, push)
		if err := conn.Send(ctx, resp); err != nil {
			if errors.Is(err, ErrChannelClosed) {
				return nil
			}
			return err
		}
	}
}

func handle(ctx context.Context, handler Handler, req Request, push Pusher) (resp *Message) {
	defer func() {
		if p := recover(); p != nil {
			resp = errorResponse(req.ID, &PanicError{
				Value: p,
				Stack: debug.Stack(),
			})
		}
	}()
	reply, err := handler.Handle(ctx, req, push)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	resp, err = okResponse(req.ID, reply)
	if err != nil {
		return errorResponse(req.ID, fmt.Errorf("encode %s reply: %w", req.Type, err))
	}
	return resp
}
