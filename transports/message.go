package transports

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message is the wire envelope. A request carries ID and Type, a response
// carries ID and OK, a push has Type "push".
type Message struct {
	ID        uint64          `json:"id,omitempty"`
	Type      string          `json:"type,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	OK        *bool           `json:"ok,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Trace     string          `json:"trace,omitempty"`
	SubjectID string          `json:"subjectId,omitempty"`
	StateID   string          `json:"stateId,omitempty"`
	// Blob carries raw bytes next to the json body. The in-memory pipe hands
	// the slice over as is, the sender must not touch it after Send.
	Blob []byte `json:"blob,omitempty"`
}

const TypePush = "push"

type Kind uint8

const (
	KindRequest Kind = iota + 1
	KindResponse
	KindPush
)

func (m *Message) Kind() Kind {
	switch {
	case m.Type == TypePush:
		return KindPush
	case m.OK != nil:
		return KindResponse
	default:
		return KindRequest
	}
}

var (
	ErrChannelClosed = errors.New("channel closed")
	ErrBadMessage    = errors.New("bad message")
)

// RemoteError is an application error reported by the other side.
type RemoteError struct {
	Message string
	Trace   string
}

func (r *RemoteError) Error() string {
	return r.Message
}

// Traced is implemented by errors carrying a diagnostic trace.
type Traced interface {
	Trace() string
}

func newRequest(id uint64, typ string, payload any, blob []byte) (*Message, error) {
	msg := &Message{
		ID:   id,
		Type: typ,
		Blob: blob,
	}
	if payload != nil {
		bs, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		msg.Payload = bs
	}
	return msg, nil
}

func okResponse(id uint64, reply Reply) (*Message, error) {
	ok := true
	msg := &Message{
		ID:   id,
		OK:   &ok,
		Blob: reply.Blob,
	}
	if reply.Data != nil {
		bs, err := json.Marshal(reply.Data)
		if err != nil {
			return nil, err
		}
		msg.Data = bs
	}
	return msg, nil
}

func errorResponse(id uint64, err error) *Message {
	ok := false
	msg := &Message{
		ID:    id,
		OK:    &ok,
		Error: err.Error(),
	}
	var traced Traced
	if errors.As(err, &traced) {
		msg.Trace = traced.Trace()
	}
	return msg
}

// Decode unmarshals the data of a response.
func Decode[T any](msg *Message) (ret T, err error) {
	if len(msg.Data) == 0 || string(msg.Data) == "null" {
		return
	}
	if err = json.Unmarshal(msg.Data, &ret); err != nil {
		err = fmt.Errorf("%w: %w", ErrBadMessage, err)
	}
	return
}
