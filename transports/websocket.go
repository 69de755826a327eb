package transports

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConn exchanges json text messages over a websocket.
type WebSocketConn struct {
	conn      *websocket.Conn
	writeLock sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ Conn = new(WebSocketConn)

func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	conn.SetReadLimit(-1)
	return &WebSocketConn{
		conn: conn,
	}
}

func DialWebSocket(ctx context.Context, dialer *websocket.Dialer, url string) (*WebSocketConn, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocketConn(conn), nil
}

func (w *WebSocketConn) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.writeLock.Lock()
	defer w.writeLock.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		w.conn.SetWriteDeadline(deadline)
		defer w.conn.SetWriteDeadline(time.Time{})
	}
	if err := w.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}
	return nil
}

func (w *WebSocketConn) Receive(ctx context.Context) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var msg Message
	if err := w.conn.ReadJSON(&msg); err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return nil, ErrChannelClosed
		}
		return nil, fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}
	return &msg, nil
}

func (w *WebSocketConn) Close() error {
	w.closeOnce.Do(func() {
		w.writeLock.Lock()
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		w.writeLock.Unlock()
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler upgrades requests and calls serve with the conn. The conn
// is closed when serve returns.
func WebSocketHandler(serve func(ctx context.Context, conn Conn)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied
			return
		}
		conn := NewWebSocketConn(wsConn)
		defer conn.Close()
		serve(r.Context(), conn)
	})
}
