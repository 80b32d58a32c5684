package relay

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dshills/katalyst/internal/transport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 2048
)

// client is one websocket peer.
type client struct {
	id   string
	room *room
	ws   *websocket.Conn
	send chan []byte
}

func newClient(rm *room, ws *websocket.Conn) *client {
	return &client{
		id:   uuid.NewString(),
		room: rm,
		ws:   ws,
		send: make(chan []byte, sendBuffer),
	}
}

func (c *client) readPump() {
	defer func() {
		c.room.leave(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.room.logger.Debug("peer read error", "peer", c.id, "error", err)
			}
			return
		}
		env, err := transport.DecodeEnvelope(data)
		if err != nil || env.Type != transport.EnvelopeMessage {
			c.room.logger.Debug("ignoring frame", "peer", c.id, "type", env.Type, "error", err)
			continue
		}
		c.room.forward(c, env)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
