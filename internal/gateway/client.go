package gateway

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dudufisio/fisioflow/internal/logging"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// writeTimeout bounds a single frame write so a stalled client cannot block
// a broadcast.
const writeTimeout = 10 * time.Second

// Client is one authenticated WebSocket session.
type Client struct {
	ConnID      string
	Info        ClientInfo
	AuthMethod  string
	ConnectedAt time.Time

	conn   *websocket.Conn
	mu     sync.Mutex // serializes writes
	closed bool
}

func newClient(conn *websocket.Conn, info ClientInfo, authMethod string) *Client {
	return &Client{
		ConnID:      uuid.NewString(),
		Info:        info,
		AuthMethod:  authMethod,
		ConnectedAt: time.Now(),
		conn:        conn,
	}
}

// Send writes one frame. Safe for concurrent use.
func (c *Client) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(f)
}

func (c *Client) emit(f Frame, err error) error {
	if err != nil {
		return err
	}
	return c.Send(f)
}

// SendEvent pushes a named event.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	return c.emit(NewEvent(event, payload, seq))
}

// Respond answers request id with payload.
func (c *Client) Respond(id string, payload any) error {
	return c.emit(NewResponse(id, payload))
}

// RespondError answers request id with a failure.
func (c *Client) RespondError(id string, e ErrorShape) error {
	return c.Send(NewErrorResponse(id, e))
}

// ReadFrame blocks for the next frame. Only the read loop calls it.
func (c *Client) ReadFrame() (Frame, error) {
	var f Frame
	err := c.conn.ReadJSON(&f)
	return f, err
}

// Close closes the connection once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// ClientRegistry tracks the sessions that receive settings.changed events.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client // by ConnID
	log     *logging.Logger
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client), log: log}
}

// Add registers a session.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ConnID] = c
	n := len(r.clients)
	r.mu.Unlock()
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Str("mode", c.Info.Mode).Int("connected", n).Msg("client connected")
}

// Remove unregisters a session. Unknown IDs are ignored.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	_, ok := r.clients[connID]
	delete(r.clients, connID)
	r.mu.Unlock()
	if ok {
		r.log.Info().Str("connId", connID).Msg("client disconnected")
	}
}

// Get returns a session by connection ID.
func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// Count returns the number of sessions.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Snapshot returns the current sessions, detached from the registry.
func (r *ClientRegistry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Collect(maps.Values(r.clients))
}

// Broadcast sends one event to every session and returns how many received
// it. The frame is encoded once and written outside the registry lock.
func (r *ClientRegistry) Broadcast(event string, payload any, seq int64) int {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("encoding broadcast failed")
		return 0
	}
	delivered := 0
	for _, c := range r.Snapshot() {
		if err := c.Send(f); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Str("event", event).Msg("broadcast send failed")
			continue
		}
		delivered++
	}
	r.log.Debug().Str("event", event).Int64("seq", seq).Int("delivered", delivered).Msg("broadcast")
	return delivered
}

// CloseAll disconnects every session.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
