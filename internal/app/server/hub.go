package server

import (
	"encoding/json"
	"sync"

	"github.com/castled-chess/castled/pkg/logging"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// client is one websocket connection. Writes are serialized through the
// mutex; a connection may sit in several game rooms at once.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(event string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(outbound{Type: event, Data: data}); err != nil {
		logging.Error("couldn't write to client",
			zap.String("remote_address", c.conn.RemoteAddr().String()),
			zap.Error(err),
		)
	}
}

// hub tracks which connections watch which games.
type hub struct {
	mu    sync.Mutex
	rooms map[string]map[*client]struct{}
}

func newHub() *hub {
	return &hub{rooms: make(map[string]map[*client]struct{})}
}

func (h *hub) join(gameID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[gameID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[gameID] = room
	}
	room[c] = struct{}{}
}

func (h *hub) leave(gameID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[gameID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, gameID)
		}
	}
}

func (h *hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for gameID, room := range h.rooms {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, gameID)
		}
	}
}

// Broadcast sends an event to every member of a game's room. Payloads always
// carry server-authoritative state; nothing a client sent is echoed back
// unvalidated.
func (h *hub) Broadcast(gameID, event string, payload any) {
	h.mu.Lock()
	members := make([]*client, 0, len(h.rooms[gameID]))
	for c := range h.rooms[gameID] {
		members = append(members, c)
	}
	h.mu.Unlock()

	for _, c := range members {
		c.send(event, payload)
	}
}

// decode unmarshals an inbound payload's data field.
func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}
