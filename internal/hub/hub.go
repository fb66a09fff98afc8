// Package hub owns the set of connected clients and delivers broadcasts to
// them. It is the local half of the publish/subscribe layer; the bridge wraps
// it when a broker is configured.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"drift-arena/server/internal/proto"
	"drift-arena/server/internal/sim"
)

const writeWait = 10 * time.Second

// ClientEventHandler consumes one inbound client frame. The subscriber is the
// sender's connection, usable for direct replies such as heartbeat acks.
type ClientEventHandler func(playerID string, sub *Subscriber, msg proto.ClientMessage)

// Subscriber wraps a websocket connection with a write mutex so the broadcast
// fan-out and direct replies never interleave frames.
type Subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// WriteMessage writes one frame under the subscriber's write lock and a
// bounded deadline.
func (s *Subscriber) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

// WriteJSON marshals payload and writes it as one text frame.
func (s *Subscriber) WriteJSON(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks subscribers for one session room and fans broadcasts out to
// them. Player state itself lives in the arena; the hub only owns delivery.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber
	handlers    map[string]ClientEventHandler
	arena       *sim.Arena
	logger      zerolog.Logger
}

func New(arena *sim.Arena, logger zerolog.Logger) *Hub {
	h := &Hub{
		subscribers: make(map[string]*Subscriber),
		handlers:    make(map[string]ClientEventHandler),
		arena:       arena,
		logger:      logger,
	}
	if arena != nil {
		arena.SetRemoveHook(h.dropSubscriber)
	}
	return h
}

// Arena exposes the session engine for the transport layer.
func (h *Hub) Arena() *sim.Arena {
	return h.arena
}

// Join allocates a player in the arena.
func (h *Hub) Join() proto.JoinResponse {
	return h.arena.Join()
}

// Subscribe registers a connection for an existing player and returns the
// subscriber plus the current snapshot for the initial state write. A second
// subscription for the same player replaces (and closes) the first.
func (h *Hub) Subscribe(playerID string, conn *websocket.Conn) (*Subscriber, sim.Snapshot, bool) {
	if !h.arena.Touch(playerID) {
		return nil, sim.Snapshot{}, false
	}

	sub := &Subscriber{conn: conn}

	h.mu.Lock()
	if existing, ok := h.subscribers[playerID]; ok {
		existing.conn.Close()
	}
	h.subscribers[playerID] = sub
	h.mu.Unlock()

	return sub, h.arena.Snapshot(), true
}

// Disconnect removes a player and its subscriber.
func (h *Hub) Disconnect(playerID string) {
	h.dropSubscriber(playerID)
	h.arena.Leave(playerID)
}

// OnClientEvent registers the handler for one inbound event type. Handlers
// must be registered before the first connection is accepted.
func (h *Hub) OnClientEvent(event string, handler ClientEventHandler) {
	h.mu.Lock()
	h.handlers[event] = handler
	h.mu.Unlock()
}

// Dispatch routes one inbound frame to its registered handler. Unknown event
// types are logged and dropped.
func (h *Hub) Dispatch(playerID string, sub *Subscriber, msg proto.ClientMessage) {
	h.mu.Lock()
	handler, ok := h.handlers[msg.Type]
	h.mu.Unlock()

	if !ok {
		h.logger.Warn().Str("player", playerID).Str("type", msg.Type).Msg("unknown message type")
		return
	}
	handler(playerID, sub, msg)
}

// Broadcast marshals payload once and delivers it to every subscriber.
func (h *Hub) Broadcast(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("failed to marshal broadcast")
		return
	}
	h.BroadcastFrame(data)
}

// BroadcastFrame delivers an already-marshaled frame to every subscriber.
// The bridge injects frames relayed from other instances through this path so
// they are indistinguishable from locally originated broadcasts.
func (h *Hub) BroadcastFrame(data []byte) {
	h.mu.Lock()
	subs := make(map[string]*Subscriber, len(h.subscribers))
	for id, sub := range h.subscribers {
		subs[id] = sub
	}
	h.mu.Unlock()

	for id, sub := range subs {
		if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Warn().Err(err).Str("player", id).Msg("failed to send update")
			h.Disconnect(id)
		}
	}
}

// SubscriberCount reports the number of attached connections.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) dropSubscriber(playerID string) {
	h.mu.Lock()
	sub, ok := h.subscribers[playerID]
	if ok {
		delete(h.subscribers, playerID)
	}
	h.mu.Unlock()

	if ok {
		sub.conn.Close()
	}
}
