package server

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Signaling frames only; file
	// bytes never touch this transport.
	maxMessageSize = 64 * 1024
)

// client wraps one websocket connection on the push transport.
type client struct {
	push *Push
	conn *websocket.Conn

	// Identity and room are set by the first register/join frame.
	identity string
	roomID   string
	isHost   bool

	// send carries outbound frames to the write pump. closed is set under
	// push.mu before send is closed; Push.queue checks it under the same
	// lock, so no goroutine can send on the channel after drop closes it.
	send   chan *Message
	closed bool
}

// readPump pumps frames from the websocket into the push handler. One reader
// per connection; every inbound frame also refreshes the peer's liveness.
func (c *client) readPump() {
	defer func() {
		c.push.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.push.touch(c)
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.push.logger.Debug("websocket read failed", "error", err)
			}
			break
		}
		msg.client = c
		c.push.inbound <- &msg
	}
}

// writePump pumps frames from the send channel to the websocket and keeps the
// connection alive with pings. One writer per connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
