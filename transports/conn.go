package transports

import (
	"context"
	"sync"
)

// Conn is one end of a duplex message channel.
type Conn interface {
	Send(ctx context.Context, msg *Message) error
	Receive(ctx context.Context) (*Message, error)
	Close() error
}

type pipeState struct {
	closed    chan struct{}
	closeOnce sync.Once
}

type pipeConn struct {
	in    <-chan *Message
	out   chan<- *Message
	state *pipeState
}

var _ Conn = new(pipeConn)

// Pipe returns two connected in-memory conns. Closing either end closes both.
func Pipe() (Conn, Conn) {
	a := make(chan *Message, 64)
	b := make(chan *Message, 64)
	state := &pipeState{
		closed: make(chan struct{}),
	}
	return &pipeConn{
			in:    a,
			out:   b,
			state: state,
		}, &pipeConn{
			in:    b,
			out:   a,
			state: state,
		}
}

func (p *pipeConn) Send(ctx context.Context, msg *Message) error {
	select {
	case <-p.state.closed:
		return ErrChannelClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.state.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Receive(ctx context.Context) (*Message, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.state.closed:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeConn) Close() error {
	p.state.closeOnce.Do(func() {
		close(p.state.closed)
	})
	return nil
}
