package network

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer absorbs bursts of outbound events; a client that cannot
	// drain it in time is considered dead and dropped by TrySend.
	sendBuffer = 256
)

// Client wraps one websocket connection. The Hub owns registration; the
// read and write loops each run in their own goroutine.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	send chan Message
	log  zerolog.Logger
}

func (c *Client) RemoteAddr() string {
	if c.conn == nil {
		return "unknown"
	}
	return c.conn.RemoteAddr().String()
}

// TrySend queues msg for delivery without blocking. It reports false when
// the client's buffer is full, which the caller treats as a slow or dead
// connection; match progress never waits on a single client's socket.
func (c *Client) TrySend(msg Message) bool {
	defer func() {
		// The hub closes c.send when the client unregisters; a concurrent
		// send then panics. Losing a message to a gone client is fine.
		_ = recover()
	}()
	select {
	case c.send <- msg:
		return true
	default:
		c.log.Warn().Str("remote", c.RemoteAddr()).Str("type", msg.Type).Msg("send buffer full, dropping message")
		return false
	}
}

func (c *Client) readLoop() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Str("remote", c.RemoteAddr()).Err(err).Msg("unexpected close")
			}
			return
		}
		c.hub.incoming <- clientMessage{client: c, msg: msg}
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debug().Str("remote", c.RemoteAddr()).Err(err).Msg("write failed")
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
