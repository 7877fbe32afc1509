package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"marketchat/pkg/logger"
)

// Manager tracks all active WebSocket connections. A user may be connected
// from several tabs or devices at once; each connection is its own view with
// its own message feed.
type Manager struct {
	clients    map[string]map[*Client]struct{}
	Register   chan *Client
	Unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		clients:    make(map[string]map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Start runs the manager's main loop in a goroutine
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				if m.clients[client.UserID] == nil {
					m.clients[client.UserID] = make(map[*Client]struct{})
				}
				m.clients[client.UserID][client] = struct{}{}
				m.mutex.Unlock()
				logger.Info("Client registered: %s", client.UserID)

			case client := <-m.Unregister:
				m.mutex.Lock()
				if conns, ok := m.clients[client.UserID]; ok {
					if _, ok := conns[client]; ok {
						delete(conns, client)
						client.closeSend()
						if len(conns) == 0 {
							delete(m.clients, client.UserID)
						}
					}
				}
				m.mutex.Unlock()
				logger.Info("Client unregistered: %s", client.UserID)

			case <-ctx.Done():
				close(m.done)
				return
			}
		}
	}()
}

// release hands a disconnected client back to the loop, or drops it outright
// when the manager has already shut down, so reader goroutines never block on
// an unattended Unregister channel.
func (m *Manager) release(c *Client) {
	select {
	case m.Unregister <- c:
	case <-m.done:
	}
}

// NotifyUser sends a payload to every connection the user has open. Slow
// consumers are skipped rather than blocking the caller.
func (m *Manager) NotifyUser(userID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Failed to marshal notification for user %s: %v", userID, err)
		return
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for client := range m.clients[userID] {
		client.enqueue(data)
	}
}
