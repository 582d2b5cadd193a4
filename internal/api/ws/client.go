package ws

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single frame write to one client.
	writeWait = 10 * time.Second
	// clientBuffer queues outbound frames per client; overflowing it
	// marks the client too slow to keep.
	clientBuffer = 64
)

// client is one stream subscriber. The send channel is never closed;
// the hub signals shutdown by closing done, exactly once.
type client struct {
	id   string
	conn *websocket.Conn
	send chan interface{}
	done chan struct{}
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan interface{}, clientBuffer),
		done: make(chan struct{}),
	}
}

// writePump is the sole writer on the connection. It drains the send
// queue until the hub closes done or a write fails.
func (cl *client) writePump() {
	defer cl.conn.Close()

	for {
		select {
		case v := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteJSON(v); err != nil {
				return
			}
		case <-cl.done:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			cl.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// enqueue offers a frame to the write pump without ever blocking the
// caller; a full queue drops the frame.
func (cl *client) enqueue(v interface{}) {
	select {
	case cl.send <- v:
	default:
	}
}
