package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/petmatch/pawcall/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const (
	clientSendBuffer = 32
	clientWriteWait  = 5 * time.Second
)

// Client is one connected device. The relay fans signaling out to
// clients keyed by user identity.
type Client struct {
	User domain.User

	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient(user domain.User, conn *websocket.Conn) *Client {
	return &Client{
		User: user,
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
}

// TrySend queues a frame without blocking. A slow consumer gets frames
// dropped; signaling delivery is best-effort by contract.
func (c *Client) TrySend(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("client closed")
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *Client) writePump() {
	for frame := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait)); err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
			return
		}
	}
}

// Hub tracks connected clients by user ID.
type Hub struct {
	mu      sync.RWMutex
	clients map[domain.UserID]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[domain.UserID]*Client)}
}

// Register binds a connection to a user, displacing any previous
// connection for the same user.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	prev := h.clients[c.User.ID]
	h.clients[c.User.ID] = c
	h.mu.Unlock()

	if prev != nil {
		log.Info().Str("module", "relay").Str("user", string(c.User.ID)).Msg("displacing previous connection")
		prev.Close()
	}
	log.Info().Str("module", "relay").Str("user", string(c.User.ID)).Msg("client registered")
}

// Unregister removes the binding if it still points at this client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if h.clients[c.User.ID] == c {
		delete(h.clients, c.User.ID)
	}
	h.mu.Unlock()
	c.Close()
	log.Info().Str("module", "relay").Str("user", string(c.User.ID)).Msg("client unregistered")
}

func (h *Hub) Get(id domain.UserID) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}
