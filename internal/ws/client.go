package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Client is one connection plus its session: identity (once
// authenticated), derived private key, and current room. The session is
// written only by the connection's own read loop but read by broadcasts
// from other connections, hence the mutex.
type Client struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger zerolog.Logger

	closeOnce sync.Once

	mu            sync.Mutex
	closed        bool
	username      string
	privateKey    string
	room          string
	authenticated bool
}

func newClient(server *Server, conn *websocket.Conn) *Client {
	return &Client{
		server: server,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: server.logger.With().Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

// Session accessors.

func (c *Client) identity() (username, privateKey string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username, c.privateKey, c.authenticated
}

func (c *Client) beginSession(username, privateKey, room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = username
	c.privateKey = privateKey
	c.room = room
	c.authenticated = true
}

func (c *Client) endSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = ""
	c.privateKey = ""
	c.room = ""
	c.authenticated = false
}

func (c *Client) currentRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) setRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = room
}

func (c *Client) joined(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated && c.room == room
}

// emit marshals and queues an event for this connection.
func (c *Client) emit(name string, payload any) {
	data, err := newEvent(name, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("event", name).Msg("failed to encode event")
		return
	}
	c.trySend(data)
}

// trySend queues data without blocking. A connection that cannot keep up
// has its queue dropped on the floor rather than stalling the sender, and
// a closed connection silently discards. The send channel itself is never
// closed: a handler may still hold this client from an earlier Lookup
// while the read loop tears the connection down, and its late emit must
// become undeliverable, not a panic.
func (c *Client) trySend(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn().Msg("send buffer full, dropping event")
	}
}

// closeSend stops accepting outbound events and signals the write pump to
// drain and exit. Idempotent.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

// readPump reads events off the connection and dispatches them in order.
// One goroutine per connection; returning triggers disconnect handling.
func (c *Client) readPump() {
	defer func() {
		c.server.handleDisconnect(c)
		c.closeSend()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("connection closed unexpectedly")
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.logger.Debug().Err(err).Msg("discarding malformed event")
			continue
		}

		c.server.handleEvent(c, ev)
	}
}

// writePump drains the send queue onto the connection and keeps it alive
// with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
