package transports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// StreamConn exchanges json lines over a byte stream.
type StreamConn struct {
	decoder   *json.Decoder
	encoder   *json.Encoder
	writeLock sync.Mutex
	readLock  sync.Mutex
	closers   []io.Closer
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

var _ Conn = new(StreamConn)

// NewStreamConn reads messages from r and writes to w. closers are closed
// by Close in order.
func NewStreamConn(r io.Reader, w io.Writer, closers ...io.Closer) *StreamConn {
	return &StreamConn{
		decoder: json.NewDecoder(r),
		encoder: json.NewEncoder(w),
		closers: closers,
		closed:  make(chan struct{}),
	}
}

func (s *StreamConn) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.closed:
		return ErrChannelClosed
	default:
	}
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if err := s.encoder.Encode(msg); err != nil {
		return fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}
	return nil
}

// Receive blocks on the underlying reader. ctx is checked before reading only.
func (s *StreamConn) Receive(ctx context.Context) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.readLock.Lock()
	defer s.readLock.Unlock()
	var msg Message
	if err := s.decoder.Decode(&msg); err != nil {
		if errors.Is(err, io.EOF) || isClosed(s.closed) {
			return nil, ErrChannelClosed
		}
		// a broken stream cannot be resynchronized
		return nil, fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}
	return &msg, nil
}

func (s *StreamConn) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		for _, closer := range s.closers {
			s.closeErr = errors.Join(s.closeErr, closer.Close())
		}
	})
	return s.closeErr
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
