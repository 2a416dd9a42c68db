package httpapi

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/neoraffle/internal/events"
)

const (
	streamBuffer     = 64
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks are left to the CORS configuration.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamEvents upgrades to a websocket and pushes every new event as a JSON
// text message. ?type= restricts the stream to one event type. A client that
// cannot keep up loses events rather than stalling the raffle.
func (h *handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var filter events.EventFilter
	if t := r.URL.Query().Get("type"); t != "" {
		filter = func(e events.Event) bool { return e.Type == events.EventType(t) }
	}

	ch := make(chan events.Event, streamBuffer)
	var dropped atomic.Int64
	unsubscribe := h.opts.Events.SubscribeFiltered(filter, func(e events.Event) {
		select {
		case ch <- e:
		default:
			dropped.Add(1)
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			if n := dropped.Load(); n > 0 {
				h.log.WithField("dropped", n).Warn("event stream client lagged")
			}
			return
		case <-r.Context().Done():
			return
		case e := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
