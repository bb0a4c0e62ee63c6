package websocket

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Client is one WebSocket connection subscribed to the auction feed.
type Client struct {
	ID          string        // user id this connection belongs to
	Conn        *websocket.Conn
	Send        chan []byte   // Channel for outgoing messages
	RateLimiter *rate.Limiter // Rate limiter to prevent spamming
	closed      bool          // Flag to check if the connection is closed
	mu          sync.Mutex    // Mutex to protect the closed flag
	onClose     func(*Client)
}

// ReadMessages listens for incoming messages from the client.
func (c *Client) ReadMessages(handleMessage func(*Client, []byte)) {
	defer func() {
		c.Disconnect()
		log.Debugf("Connection closed for client %s", c.ID)
	}()

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			log.Debugf("Error reading message from client %s: %v", c.ID, err)
			break
		}
		handleMessage(c, message)
	}
}

// WriteMessages sends outgoing messages to the client.
func (c *Client) WriteMessages() {
	defer func() {
		c.Conn.Close()
	}()

	for message := range c.Send {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}

		err := c.Conn.WriteMessage(websocket.TextMessage, message)
		c.mu.Unlock()

		if err != nil {
			log.Debugf("Error sending message to client %s: %v", c.ID, err)
			return
		}
	}
}

// send queues an outgoing frame without blocking the read pump. Frames
// for a closed or saturated queue are dropped; the write pump owns
// delivery.
func (c *Client) send(message []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- message:
	default:
	}
}

// Disconnect cleans up client resources. The client leaves the handler
// first and the send queue closes after: a broadcast can never observe a
// registered client whose queue is already closed.
func (c *Client) Disconnect() {
	if c.onClose != nil {
		c.onClose(c)
	}

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
	c.mu.Unlock()

	c.Conn.Close()
}
