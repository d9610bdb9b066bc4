package devserver

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Hub manages active WebSocket connections keyed by room and provides helper
// methods to broadcast events within a room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Join adds a connection to the given room.
func (h *Hub) Join(roomKey string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[roomKey] == nil {
		h.rooms[roomKey] = make(map[*websocket.Conn]struct{})
	}
	h.rooms[roomKey][conn] = struct{}{}
}

// Leave removes a connection from the given room.
func (h *Hub) Leave(roomKey string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.rooms[roomKey]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, roomKey)
		}
	}
}

// LeaveAll removes a connection from every room it joined. Called on
// disconnect so server-side membership is not leaked.
func (h *Hub) LeaveAll(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomKey, conns := range h.rooms {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, roomKey)
		}
	}
}

// Broadcast sends the payload to all connections in the room. except may be
// nil; a non-nil except connection is skipped (e.g. typing indicators do not
// go back to their sender).
func (h *Hub) Broadcast(roomKey string, payload any, except *websocket.Conn) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.rooms[roomKey] {
		if conn == except {
			continue
		}
		if err := conn.WriteJSON(payload); err != nil {
			conn.Close()
			// actual removal is best-effort; a stale conn may linger until LeaveAll
		}
	}
}
