package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatd/internal/models"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	sendBuffer   = 256
)

var (
	errSendBufferFull = errors.New("send buffer full")
	errClientClosed   = errors.New("client closed")
)

// Client is one live authenticated connection. Each client runs a blocking
// read pump and a write pump; everything the server wants to push goes
// through the buffered send channel so a slow peer never stalls a fan-out.
type Client struct {
	id        string
	hub       *Hub
	router    *Router
	conn      *websocket.Conn
	send      chan []byte
	userID    int64
	firstName string
	lastName  string

	mu     sync.Mutex
	closed bool
}

func NewClient(hub *Hub, router *Router, conn *websocket.Conn, user *models.User) *Client {
	return &Client{
		id:        uuid.NewString(),
		hub:       hub,
		router:    router,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		userID:    user.ID,
		firstName: user.FirstName,
		lastName:  user.LastName,
	}
}

func (c *Client) UserID() int64 {
	return c.userID
}

// enqueue hands a payload to the write pump without blocking. A full buffer
// means the peer is too slow to keep up; the caller treats that as a delivery
// failure for this connection only. The mutex keeps the fan-out path, which
// works on registry snapshots, from writing to a channel a concurrent
// unregister has already closed.
func (c *Client) enqueue(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *Client) sendError(message string) {
	payload, err := json.Marshal(models.ErrorFrame{Type: "error", Message: message})
	if err != nil {
		c.hub.logger.Printf("Failed to marshal error frame: %v", err)
		return
	}
	if err := c.enqueue(payload); err != nil {
		c.hub.logger.Printf("Failed to queue error frame for client %s: %v", c.id, err)
	}
}

// closeSend shuts the send channel exactly once so the write pump exits.
// Only the hub calls this, from Unregister.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// handleFrame decodes one inbound frame and dispatches it. Malformed input
// gets an error frame back and leaves the connection open; unrecognized types
// are ignored for forward compatibility.
func (c *Client) handleFrame(raw []byte) {
	var frame models.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.hub.logger.Printf("Invalid frame from client %s: %v", c.id, err)
		c.sendError("Invalid message format")
		return
	}

	switch frame.Type {
	case "send_message":
		c.router.Send(c, frame)
	default:
		// Unknown frame types are dropped without a reply.
	}
}

// ReadPump reads inbound frames until the connection dies. Presence
// unregistration is tied to this pump's cleanup, so it runs exactly once no
// matter which path closed the connection.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Printf("Read error on client %s: %v", c.id, err)
			}
			break
		}
		c.handleFrame(raw)
	}
}

// WritePump writes queued payloads and keepalive pings until the send channel
// closes or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
