package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const sendBufferSize = 32

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionInUse    = errors.New("connection id is still in use")
)

type client struct {
	id      string // guarded by Hub.mu
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, conn *websocket.Conn, limiter *rate.Limiter) *client {
	return &client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		limiter: limiter,
		done:    make(chan struct{}),
	}
}

func (that *client) close() {
	that.closeOnce.Do(func() {
		close(that.done)
	})
}

// Hub keeps live connections and the room groups they are subscribed to.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
	rooms   map[string]map[string]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]struct{}),
	}
}

func (that *Hub) register(c *client) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.clients[c.id] = c
}

// unregister - drops the client from the hub and returns the id it was last known by.
func (that *Hub) unregister(c *client) string {
	that.mu.Lock()
	defer that.mu.Unlock()

	id := c.id
	if current, ok := that.clients[id]; ok && current == c {
		delete(that.clients, id)
	}

	for roomID, members := range that.rooms {
		delete(members, id)
		if len(members) == 0 {
			delete(that.rooms, roomID)
		}
	}

	return id
}

func (that *Hub) connID(c *client) string {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return c.id
}

func (that *Hub) Subscribe(roomID, connID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.clients[connID]; !ok {
		return
	}

	members, ok := that.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		that.rooms[roomID] = members
	}

	members[connID] = struct{}{}
}

func (that *Hub) Unsubscribe(roomID, connID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	members, ok := that.rooms[roomID]
	if !ok {
		return
	}

	delete(members, connID)
	if len(members) == 0 {
		delete(that.rooms, roomID)
	}
}

func (that *Hub) HasSubscribers(roomID string) bool {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return len(that.rooms[roomID]) > 0
}

func (that *Hub) CloseRoom(roomID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.rooms, roomID)
}

func (that *Hub) Broadcast(roomID, action string, payload any) {
	log := that.logger.With("method", "Broadcast", "roomId", roomID, "action", action)

	data, err := json.Marshal(outbound{Action: action, Payload: payload})
	if err != nil {
		log.Error("failed to marshal message", "error", err)
		return
	}

	that.mu.RLock()
	defer that.mu.RUnlock()

	for connID := range that.rooms[roomID] {
		if c, ok := that.clients[connID]; ok {
			that.enqueue(c, data)
		}
	}
}

func (that *Hub) Send(connID, action string, payload any) {
	log := that.logger.With("method", "Send", "connId", connID, "action", action)

	data, err := json.Marshal(outbound{Action: action, Payload: payload})
	if err != nil {
		log.Error("failed to marshal message", "error", err)
		return
	}

	that.mu.RLock()
	defer that.mu.RUnlock()

	c, ok := that.clients[connID]
	if !ok {
		log.Debug("connection is gone, message dropped")
		return
	}

	that.enqueue(c, data)
}

// Rebind - moves the client registered as connID under previousConnID. Group memberships of connID are dropped.
func (that *Hub) Rebind(connID, previousConnID string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	c, ok := that.clients[connID]
	if !ok {
		return ErrConnectionNotFound
	}

	if other, taken := that.clients[previousConnID]; taken && other != c {
		return ErrConnectionInUse
	}

	delete(that.clients, connID)
	c.id = previousConnID
	that.clients[previousConnID] = c

	// groups joined under the fresh id are not carried over
	for roomID, members := range that.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(that.rooms, roomID)
		}
	}

	return nil
}

// enqueue - must be called with mu held. Slow clients are disconnected rather than blocking the room.
func (that *Hub) enqueue(c *client, data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		that.logger.Warn("send buffer full, closing connection", "connId", c.id)
		c.close()
	}
}
