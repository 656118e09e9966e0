package ws

import "sync"

// Hub tracks every open connection and maps authenticated usernames to
// their client for event routing. Registrations and lookups happen from
// different connection goroutines, so everything is mutex-guarded.
type Hub struct {
	mu sync.RWMutex

	// All open connections, authenticated or not.
	conns map[*Client]bool

	// Authenticated presence: username -> routable client. At most one
	// connection per identity is addressable; a later login as the same
	// identity replaces the earlier one.
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		conns:   make(map[*Client]bool),
		clients: make(map[string]*Client),
	}
}

// Add tracks a newly opened connection.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = true
}

// Remove drops a closed connection, including its presence entry if it
// is still the registered one for its identity.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
	for username, client := range h.clients {
		if client == c {
			delete(h.clients, username)
		}
	}
}

// Register makes c the routable connection for username. Last
// registration wins.
func (h *Hub) Register(username string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[username] = c
}

// Unregister removes the presence entry, but only if c is still the
// registered connection; a replaced connection logging out must not evict
// its successor.
func (h *Hub) Unregister(username string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[username] == c {
		delete(h.clients, username)
	}
}

// Lookup returns the routable connection for username, if any.
func (h *Hub) Lookup(username string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[username]
	return c, ok
}

// ActiveUsers returns the usernames with a registered connection.
func (h *Hub) ActiveUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.clients))
	for username := range h.clients {
		users = append(users, username)
	}
	return users
}

// Broadcast sends an event to every open connection.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		c.trySend(data)
	}
}

// BroadcastExcept sends an event to every open connection but one.
func (h *Hub) BroadcastExcept(data []byte, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if c != except {
			c.trySend(data)
		}
	}
}

// BroadcastRoom sends an event to every authenticated connection joined
// to room. except may be nil to include everyone.
func (h *Hub) BroadcastRoom(room string, data []byte, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if c == except {
			continue
		}
		if c.joined(room) {
			c.trySend(data)
		}
	}
}
