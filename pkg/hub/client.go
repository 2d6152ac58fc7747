package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds what a viewer may send us
	maxMessageSize = 4 * 1024
)

// conn is the part of *websocket.Conn the pumps use.
type conn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one websocket viewer.
type Client struct {
	hub  *Hub
	conn conn
	send chan Message

	// writeDone is closed when writePump returns
	writeDone chan struct{}
}

// NewClient creates a client and registers it with the hub. ok is false
// when the hub has stopped.
func NewClient(hub *Hub, conn *websocket.Conn) (client *Client, ok bool) {
	return register(hub, conn)
}

func register(hub *Hub, ws conn) (*Client, bool) {
	client := newClient(hub, ws)
	select {
	case hub.register <- client:
		return client, true
	case <-hub.done:
		return nil, false
	}
}

func newClient(hub *Hub, ws conn) *Client {
	return &Client{
		hub:       hub,
		conn:      ws,
		send:      make(chan Message, 8),
		writeDone: make(chan struct{}),
	}
}

// Run starts the read and write pumps. It blocks until the connection
// closes and both pumps have stopped touching it, which is what fiber's
// websocket handler expects: the conn goes back to a pool once the handler
// returns.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
	<-c.writeDone
}

// readPump only detects disconnection and handles pongs.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump is the only writer on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writeDone)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			wsType := websocket.TextMessage
			if message.Type == BinaryMessage {
				wsType = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(wsType, message.Data); err != nil {
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
