// Package realtime is the socket transport: it owns live connections, their
// topic subscriptions and per-user delivery.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

const defaultSendBuffer = 64

// Conn is one authenticated socket. Frames are queued on send and written by
// a single pump goroutine.
type Conn struct {
	id       string
	username string
	ws       *websocket.Conn
	send     chan []byte
	topics   map[string]struct{} // guarded by Hub.mu
}

func newConn(id, username string, ws *websocket.Conn, buffer int) *Conn {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Conn{
		id:       id,
		username: username,
		ws:       ws,
		send:     make(chan []byte, buffer),
		topics:   make(map[string]struct{}),
	}
}

func (c *Conn) ID() string       { return c.id }
func (c *Conn) Username() string { return c.username }

// Hub delivers frames to the connections of this process. It implements the
// publisher interfaces of the lobby and game service.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]*Conn
	byUser  map[string]map[string]*Conn
	topics  map[string]map[string]*Conn
	resolve ConnResolver
}

// ConnResolver maps a username to the connection registered for it in the lobby.
type ConnResolver func(username string) (connID string, ok bool)

func NewHub() *Hub {
	return &Hub{
		conns:  make(map[string]*Conn),
		byUser: make(map[string]map[string]*Conn),
		topics: make(map[string]map[string]*Conn),
	}
}

// ResolveUsersWith routes user deliveries to the lobby-registered connection.
func (h *Hub) ResolveUsersWith(r ConnResolver) {
	h.mu.Lock()
	h.resolve = r
	h.mu.Unlock()
}

func (h *Hub) add(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
	set := h.byUser[c.username]
	if set == nil {
		set = make(map[string]*Conn)
		h.byUser[c.username] = set
	}
	set[c.id] = c
}

// remove drops the connection and closes its send queue. Safe to call twice.
func (h *Hub) remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	delete(h.conns, connID)
	if set := h.byUser[c.username]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.byUser, c.username)
		}
	}
	for topic := range c.topics {
		h.dropSubscriber(topic, connID)
	}
	close(c.send)
}

func (h *Hub) dropSubscriber(topic, connID string) {
	subs := h.topics[topic]
	if subs == nil {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// Subscribe attaches the connection to topic. Unknown connections are ignored.
func (h *Hub) Subscribe(connID, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return false
	}
	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[string]*Conn)
		h.topics[topic] = subs
	}
	subs[connID] = c
	c.topics[topic] = struct{}{}
	return true
}

func (h *Hub) Unsubscribe(connID, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[connID]; ok {
		delete(c.topics, topic)
	}
	h.dropSubscriber(topic, connID)
}

// Subscribers reports how many local connections listen on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) PublishTopic(_ context.Context, topic, eventType string, payload any) {
	frame, ok := encodeFrame(arenadto.TopicDestination(topic), eventType, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.topics[topic] {
		h.enqueue(c, frame)
	}
}

// PublishUser delivers to the user's lobby connection. Users not in the lobby
// yet get the frame on every local socket authenticated as them.
func (h *Hub) PublishUser(_ context.Context, username, queue, eventType string, payload any) {
	frame, ok := encodeFrame(arenadto.QueueDestination(queue), eventType, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.resolve != nil {
		if id, ok := h.resolve(username); ok {
			if c, live := h.conns[id]; live {
				h.enqueue(c, frame)
				return
			}
		}
	}
	for _, c := range h.byUser[username] {
		h.enqueue(c, frame)
	}
}

func (h *Hub) sendTo(c *Conn, eventType, queue string, payload any) {
	frame, ok := encodeFrame(arenadto.QueueDestination(queue), eventType, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, live := h.conns[c.id]; live {
		h.enqueue(c, frame)
	}
}

// enqueue must run under h.mu so send is not closed concurrently.
func (h *Hub) enqueue(c *Conn, frame []byte) {
	select {
	case c.send <- frame:
	default:
		obslog.L().Warn("ws_send_dropped",
			zap.String("conn_id", c.id),
			zap.String("user", c.username),
			zap.Int("queued", len(c.send)))
	}
}

// CloseAll tells every client the server is going away.
func (h *Hub) CloseAll(reason string) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		if c.ws != nil {
			_ = c.ws.Close(websocket.StatusGoingAway, reason)
		}
	}
}

func encodeFrame(destination, eventType string, payload any) ([]byte, bool) {
	b, err := json.Marshal(arenadto.Outbound{Destination: destination, Type: eventType, Payload: payload})
	if err != nil {
		obslog.L().Error("ws_encode_failed", zap.String("destination", destination), zap.String("type", eventType), zap.Error(err))
		return nil, false
	}
	return b, true
}
