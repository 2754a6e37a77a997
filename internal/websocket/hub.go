package websocket

import (
	"log"
	"os"
	"sync"
)

// Hub is the in-process presence registry: it maps each user to the set of
// live connections currently open for that user. A user may hold any number
// of simultaneous connections (multi-device). All mutation and lookup happens
// under a single mutex; fan-out sends work on snapshots taken outside the
// lock so no network I/O ever runs while it is held.
type Hub struct {
	mu          sync.RWMutex
	connections map[int64]map[*Client]struct{}
	logger      *log.Logger
}

func NewHub() *Hub {
	return &Hub{
		connections: make(map[int64]map[*Client]struct{}),
		logger:      log.New(os.Stdout, "[WEBSOCKET] ", log.LstdFlags|log.Lshortfile),
	}
}

// Register adds a client to its user's connection set, creating the set on
// first connection.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	set, ok := h.connections[client.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.connections[client.userID] = set
	}
	set[client] = struct{}{}
	total := len(set)
	h.mu.Unlock()

	h.logger.Printf("Client %s connected for user %d, connections for user: %d", client.id, client.userID, total)
}

// Unregister removes a client from its user's connection set and drops the
// set once it drains. Unregistering a client that was already removed is a
// no-op, so every close path can call it safely.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	set, ok := h.connections[client.userID]
	if ok {
		if _, registered := set[client]; registered {
			delete(set, client)
			if len(set) == 0 {
				delete(h.connections, client.userID)
			}
		} else {
			ok = false
		}
	}
	h.mu.Unlock()

	if ok {
		client.closeSend()
		h.logger.Printf("Client %s disconnected for user %d", client.id, client.userID)
	}
}

// ConnectionsFor returns a snapshot of the user's live connections; the
// caller can iterate it without holding any lock.
func (h *Hub) ConnectionsFor(userID int64) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set, ok := h.connections[userID]
	if !ok {
		return nil
	}
	clients := make([]*Client, 0, len(set))
	for client := range set {
		clients = append(clients, client)
	}
	return clients
}

// OnlineUserCount reports how many distinct users currently hold at least one
// live connection.
func (h *Hub) OnlineUserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
