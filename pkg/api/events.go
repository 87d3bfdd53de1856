package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	eventBuffer = 64
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // the API listens on loopback by default
	},
}

// handleEvents streams every notification as one JSON text frame. The
// stream ends when the client goes away or the subscription closes.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnw("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	signals, cancel := s.bus.Subscribe(eventBuffer)
	defer cancel()
	s.log.Debugf("📡 Event stream opened for %s", c.ClientIP())

	// The reader only watches for close and pong frames
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			s.log.Debugf("Event stream closed for %s", c.ClientIP())
			return
		case sig, open := <-signals:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(sig); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
