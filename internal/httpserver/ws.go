package httpserver

import (
	"net/http"
	"time"

	"github.com/blackmichael/tweetwall/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed is shared by design; same-origin enforcement would break
	// the terminal watcher and any non-browser consumer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebsocket serves the push-relay transport: after the connected
// acknowledgement, every bus event is forwarded verbatim for as long as
// the connection is open. The bus subscription is cancelled on
// disconnect.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.metrics.StreamClients.WithLabelValues("websocket").Inc()
	defer s.metrics.StreamClients.WithLabelValues("websocket").Dec()

	sub, cancel := s.bus.Subscribe()
	defer cancel()

	// Reader goroutine: the client never sends events, but reading is
	// what surfaces close frames and feeds the pong handler.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.writeEvent(conn, domain.ConnectedEvent{Message: "Connected to tweet stream"}); err != nil {
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := s.writeEvent(conn, ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, ev domain.Event) error {
	payload, err := domain.EncodeEvent(ev)
	if err != nil {
		s.logger.Error("failed to encode websocket event", "kind", ev.Kind(), "error", err)
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
