package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // cross-origin policy is enforced by the CORS layer
	},
}

// message is an inbound client frame. Clients only send control
// frames; events flow the other way.
type message struct {
	Type string `json:"type"`
}

// HandleConnection upgrades the request and streams events until the
// client goes away or the hub stops.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	cl := newClient(conn)
	select {
	case h.register <- cl:
	case <-h.done:
		conn.Close()
		return
	}
	go cl.writePump()

	cl.enqueue(map[string]interface{}{
		"type":      "system",
		"message":   "connected to plugin engine event stream",
		"client_id": cl.id,
	})

	h.readLoop(cl)
}

// readLoop consumes control frames until the connection drops. It is
// the handler goroutine, so the route stays open for the connection's
// lifetime.
func (h *Hub) readLoop(cl *client) {
	defer func() {
		select {
		case h.unregister <- cl:
		case <-h.done:
		}
		cl.conn.Close()
	}()

	for {
		var msg message
		if err := cl.conn.ReadJSON(&msg); err != nil {
			return
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", msg.Type)
		}

		switch msg.Type {
		case "ping":
			cl.enqueue(map[string]interface{}{
				"type":      "pong",
				"timestamp": time.Now().Unix(),
			})
		default:
			cl.enqueue(map[string]interface{}{
				"type":      "error",
				"message":   "unknown message type",
				"timestamp": time.Now().Unix(),
			})
		}
	}
}
