package transports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/reusee/studyboard/logs"
	"golang.org/x/sync/errgroup"
)

// PushHandler receives the data of a push notification.
type PushHandler func(data json.RawMessage)

type PushKey struct {
	SubjectID string
	StateID   string
}

type subscription struct {
	handler PushHandler
}

// Client issues requests over a Conn and dispatches responses and pushes.
// It is safe for concurrent use. There is no retry.
type Client struct {
	conn   Conn
	logger logs.Logger
	nextID atomic.Uint64

	lock      sync.Mutex
	pending   map[uint64]chan *Message
	handlers  map[PushKey]*subscription
	pushQueue []*Message
	err       error

	pushReady chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

func NewClient(conn Conn, logger logs.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	c := &Client{
		conn:      conn,
		logger:    logger,
		pending:   make(map[uint64]chan *Message),
		handlers:  make(map[PushKey]*subscription),
		pushReady: make(chan struct{}, 1),
		done:      make(chan struct{}),
		cancel:    cancel,
		group:     group,
	}
	group.Go(func() error {
		return c.readLoop(ctx)
	})
	group.Go(func() error {
		return c.pushLoop(ctx)
	})
	return c
}

func (c *Client) readLoop(ctx context.Context) error {
	for {
		msg, err := c.conn.Receive(ctx)
		if err != nil {
			c.shutdown(err)
			return err
		}

		switch msg.Kind() {

		case KindResponse:
			c.lock.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.lock.Unlock()
			if !ok {
				c.logger.Debug("response without pending request", "id", msg.ID)
				continue
			}
			ch <- msg

		case KindPush:
			c.lock.Lock()
			c.pushQueue = append(c.pushQueue, msg)
			c.lock.Unlock()
			select {
			case c.pushReady <- struct{}{}:
			default:
			}

		default:
			c.logger.Warn("unexpected request from peer", "type", msg.Type)
		}
	}
}

func (c *Client) pushLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.pushReady:
		}
		for {
			c.lock.Lock()
			if len(c.pushQueue) == 0 {
				c.lock.Unlock()
				break
			}
			msg := c.pushQueue[0]
			c.pushQueue[0] = nil
			c.pushQueue = c.pushQueue[1:]
			sub := c.handlers[PushKey{
				SubjectID: msg.SubjectID,
				StateID:   msg.StateID,
			}]
			c.lock.Unlock()
			if sub == nil {
				// no subscriber
				continue
			}
			sub.handler(msg.Data)
		}
	}
}

func (c *Client) shutdown(cause error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.err != nil {
		return
	}
	if errors.Is(cause, ErrChannelClosed) {
		c.err = cause
	} else {
		c.err = fmt.Errorf("%w: %w", ErrChannelClosed, cause)
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pushQueue = nil
	close(c.done)
}

// Call sends a request and waits for its response. A response with ok false
// is returned along with a *RemoteError.
func (c *Client) Call(ctx context.Context, typ string, payload any, blob []byte) (*Message, error) {
	id := c.nextID.Add(1)
	req, err := newRequest(id, typ, payload, blob)
	if err != nil {
		return nil, err
	}

	ch := make(chan *Message, 1)
	c.lock.Lock()
	if c.err != nil {
		err := c.err
		c.lock.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.lock.Unlock()

	if err := c.conn.Send(ctx, req); err != nil {
		c.forget(id)
		if errors.Is(err, ErrChannelClosed) {
			c.shutdown(err)
		}
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, c.Err()
		}
		if !*resp.OK {
			return resp, &RemoteError{
				Message: resp.Error,
				Trace:   resp.Trace,
			}
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.lock.Lock()
	delete(c.pending, id)
	c.lock.Unlock()
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.pending)
}

// Subscribe registers the handler for pushes tagged with the pair, replacing
// any previous one. detach removes it if it is still registered.
func (c *Client) Subscribe(subjectID, stateID string, handler PushHandler) (detach func()) {
	key := PushKey{
		SubjectID: subjectID,
		StateID:   stateID,
	}
	sub := &subscription{
		handler: handler,
	}
	c.lock.Lock()
	c.handlers[key] = sub
	c.lock.Unlock()
	return func() {
		c.lock.Lock()
		defer c.lock.Unlock()
		if c.handlers[key] == sub {
			delete(c.handlers, key)
		}
	}
}

// Done is closed when the channel is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the closing error, nil while open.
func (c *Client) Err() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.err
}

// Close closes the conn, rejects all pending requests and waits for the
// dispatch goroutines.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.shutdown(ErrChannelClosed)
		c.closeErr = c.conn.Close()
		c.cancel()
		_ = c.group.Wait()
	})
	return c.closeErr
}
