package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mantonx/chunkstream/internal/events"
	"github.com/mantonx/chunkstream/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same-machine players and dashboards connect from arbitrary origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventsWebSocket streams pipeline lifecycle events to the client until it
// disconnects.
func EventsWebSocket(c *gin.Context) {
	log := logger.Named("events-ws")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, cancel := events.GetGlobalEventBus().Subscribe(64)
	defer cancel()

	// Reader goroutine notices the client going away.
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
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				log.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
