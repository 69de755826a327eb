package hosts

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/reusee/studyboard/fragments"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// fragmentEvent is sent by the page for an element with a data-on-* handler.
type fragmentEvent struct {
	Handler string `json:"handler"`
	Value   any    `json:"value"`
	Checked bool   `json:"checked"`
}

type fragmentUpdate struct {
	HTML  *string `json:"html,omitempty"`
	Error string  `json:"error,omitempty"`
}

// handleFragmentSocket relays page events to the fragment and sends the
// markup after every change.
func (s *Server) handleFragmentSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnContext(r.Context(), "websocket upgrade", "error", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// unblocks the read loop
	stop := context.AfterFunc(ctx, func() {
		ws.Close()
	})
	defer stop()

	var writeLock sync.Mutex
	send := func(update fragmentUpdate) error {
		writeLock.Lock()
		defer writeLock.Unlock()
		return ws.WriteJSON(update)
	}
	sendHTML := func() error {
		markup := s.fragmentHTML()
		return send(fragmentUpdate{
			HTML: &markup,
		})
	}

	changes, unwatch := s.watch()
	defer unwatch()
	if err := sendHTML(); err != nil {
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				if err := sendHTML(); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		var event fragmentEvent
		if err := ws.ReadJSON(&event); err != nil {
			break
		}
		instance := s.currentInstance()
		if instance == nil {
			send(fragmentUpdate{
				Error: "no fragment",
			})
			continue
		}
		if err := instance.Dispatch(ctx, event.Handler, fragments.Event{
			Value:   event.Value,
			Checked: event.Checked,
		}); err != nil {
			s.logger.WarnContext(ctx, "fragment event", "handler", event.Handler, "error", err)
			send(fragmentUpdate{
				Error: err.Error(),
			})
		}
	}
	cancel()
	wg.Wait()
}
