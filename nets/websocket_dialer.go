package nets

import (
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer dials remote sandboxes through Dialer.
type WebSocketDialer = *websocket.Dialer

func (Module) WebSocketDialer(
	dialer Dialer,
) WebSocketDialer {
	return &websocket.Dialer{
		NetDialContext:   dialer.DialContext,
		HandshakeTimeout: 30 * time.Second,
		// archives travel as a single message
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
	}
}
