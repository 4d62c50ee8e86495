package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/onkernel/kimd/lib/logger"
)

const eventWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventsHandler streams image manager events as JSON websocket messages
// until the client goes away or the manager is closed
func (s *ApiService) EventsHandler(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	// The request context is not cancelled for hijacked connections, so the
	// subscription is tied to the reader instead.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	events, err := s.ImageManager.Subscribe(ctx)
	if err != nil {
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()))
		return
	}

	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.DebugContext(ctx, "event subscriber connected", "remote_addr", r.RemoteAddr)

	for ev := range events {
		_ = ws.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		if err := ws.WriteJSON(ev); err != nil {
			log.DebugContext(ctx, "event subscriber write failed", "error", err)
			return
		}
	}

	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	log.DebugContext(ctx, "event subscriber disconnected", "remote_addr", r.RemoteAddr)
}
