package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"roondisplay/internal/models"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	// LAN display surface; origin policy is handled by the CORS layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS streams broadcast messages to one viewer. The first frame is
// the current connection status; a viewer wanting full zone state pulls
// it through the read API after connecting.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	sub := s.engine.Subscribe()
	defer s.engine.Unsubscribe(sub)

	init := models.ConnectionChangedMessage(s.engine.Connected())
	if err := conn.WriteJSON(init); err != nil {
		return
	}

	// Reader goroutine detects the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
