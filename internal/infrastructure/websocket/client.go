package websocket

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"marketchat/internal/usecase"
	"marketchat/pkg/logger"
)

// Client is one WebSocket connection: one view, one subscription. Its feed is
// torn down when the connection goes away, so navigating away or dropping the
// socket never leaks a live listener.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	chatUC       *usecase.ChatUseCase
	subscription *usecase.SubscriptionManager

	ctx    context.Context
	cancel context.CancelFunc

	sendMu sync.Mutex
	closed bool
}

func NewClient(userID string, conn *websocket.Conn, chatUC *usecase.ChatUseCase, subscription *usecase.SubscriptionManager) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		UserID:       userID,
		Conn:         conn,
		Send:         make(chan []byte, 256),
		chatUC:       chatUC,
		subscription: subscription,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// enqueue hands data to the write pump without blocking. A torn-down
// connection swallows the event; slow consumers drop it.
func (c *Client) enqueue(data []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
		logger.Warn("WebSocket: client %s send buffer full, dropping event", c.UserID)
	}
}

// closeSend ends the write pump. Idempotent, and serialized against enqueue
// so a straggling feed event never hits a closed channel.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		c.subscription.Close()
		c.cancel()
		m.release(c)
		c.Conn.Close()
	}()

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket read error for %s: %v", c.UserID, err)
			}
			break
		}

		c.handleMessage(message)
	}
}

// WritePump sends messages to the WebSocket connection
func (c *Client) WritePump() {
	defer c.Conn.Close()

	for {
		message, ok := <-c.Send
		if !ok {
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logger.Error("WebSocket write error for %s: %v", c.UserID, err)
			return
		}
	}
}
