// Streams placeholder identity transitions over a websocket.

package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maruel/gridb/internal/pending"
)

const (
	eventsWriteTimeout = 10 * time.Second
	eventsPingInterval = 30 * time.Second
	eventsBuffer       = 64
)

// subscriber buffers the registry events of one connection.
type subscriber struct {
	events chan pending.Event
	// overflow is closed once when the buffer was full.
	overflow chan struct{}
	once     sync.Once
}

func newSubscriber(n int) *subscriber {
	return &subscriber{events: make(chan pending.Event, n), overflow: make(chan struct{})}
}

// send is called concurrently by the registry.
func (sub *subscriber) send(e pending.Event) {
	select {
	case sub.events <- e:
	default:
		sub.once.Do(func() { close(sub.overflow) })
	}
}

// Events upgrades the connection and sends every registry event as a JSON
// text message. A client that falls behind is disconnected.
func (s *Server) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.InfoContext(ctx, "events: upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sub := newSubscriber(eventsBuffer)
	unsubscribe := s.registry.Subscribe(sub.send)
	defer unsubscribe()

	// The reader detects the peer closing the connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventsPingInterval)
	defer ping.Stop()
	for {
		select {
		case e := <-sub.events:
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				slog.InfoContext(ctx, "events: write failed", "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteTimeout)); err != nil {
				return
			}
		case <-sub.overflow:
			slog.WarnContext(ctx, "events: client too slow, disconnecting", "remote", clientIP(r))
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"), time.Now().Add(eventsWriteTimeout))
			return
		case <-closed:
			return
		case <-ctx.Done():
			return
		}
	}
}
