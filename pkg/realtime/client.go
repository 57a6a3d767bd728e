package realtime

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mahaj/dupahar-support/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer.
	maxMessageSize = 64 << 10

	sendBuffer = 256
)

// Client is one websocket connection of an authenticated user. A user may
// hold several at once.
type Client struct {
	ID     string
	UserID string
	Actor  model.Actor

	conn *websocket.Conn

	// Buffered queue of outbound frames. The hub never closes it; closed
	// tells the pumps to stop.
	send   chan []byte
	closed chan struct{}

	// Owned by the hub goroutine.
	channels map[string]bool
}

func NewClient(actor model.Actor, conn *websocket.Conn) *Client {
	return &Client{
		ID:       uuid.NewString(),
		UserID:   actor.UserID,
		Actor:    actor,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		closed:   make(chan struct{}),
		channels: make(map[string]bool),
	}
}

// Send queues a frame for this client only. It reports false when the
// client is gone or its queue is full.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Done is closed once the hub has dropped the client.
func (c *Client) Done() <-chan struct{} { return c.closed }

// readPump reads frames until the connection fails, handing each to fn.
func (c *Client) readPump(fn func(frame []byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		fn(frame)
	}
}

// writePump moves queued frames to the connection, one websocket message
// per frame, and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
