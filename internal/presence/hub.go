package presence

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"annothub/pkg/models"
)

const writeWait = 2 * time.Second

type member struct {
	connectionID string
	userID       string
	cursor       *models.Cursor
	isTyping     bool
}

type room struct {
	members map[*websocket.Conn]*member
}

// Hub tracks which users are present on which document and fans
// messages out to everyone in a document's room. At most one member per
// (document, user): a second join for the same user replaces the first.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
}

type Stats struct {
	Documents int `json:"documents"`
	Clients   int `json:"clients"`
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

// Join registers a connection under documentID, welcomes it with its
// connection id plus the room snapshot, and announces it to the room.
// All three sends happen while the hub is locked: once the conn is in
// the room, only the hub may write to it, otherwise a concurrent
// Broadcast would race the handshake on the same conn. A stale
// connection for the same user is dropped and closed.
func (h *Hub) Join(documentID, userID string, ws *websocket.Conn) string {
	connectionID := uuid.NewString()

	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.roomLocked(documentID)
	for conn, m := range r.members {
		if m.userID == userID {
			delete(r.members, conn)
			_ = conn.Close()
		}
	}
	r.members[ws] = &member{connectionID: connectionID, userID: userID}

	writeConn(ws, NewEnvelope(TypeConnectionEstablished, "", map[string]any{
		"connectionId": connectionID,
	}))
	writeConn(ws, NewEnvelope(TypeDocumentUsers, "", map[string]any{
		"users": r.usersLocked(),
	}))
	h.broadcastLocked(r, NewEnvelope(TypeUserJoined, userID, map[string]any{
		"connectionId": connectionID,
	}))

	return connectionID
}

// Leave removes a connection and reports the user id it belonged to, or
// "" when the connection was already replaced or never joined.
func (h *Hub) Leave(documentID string, ws *websocket.Conn) string {
	var userID string

	h.mu.Lock()
	if r, ok := h.rooms[documentID]; ok {
		if m, exists := r.members[ws]; exists {
			userID = m.userID
			delete(r.members, ws)
		}
		if len(r.members) == 0 {
			delete(h.rooms, documentID)
		}
	}
	h.mu.Unlock()

	_ = ws.Close()
	return userID
}

func (h *Hub) Broadcast(documentID string, env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[documentID]; ok {
		h.broadcastLocked(r, env)
	}
}

func (h *Hub) broadcastLocked(r *room, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}

	for ws := range r.members {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			_ = ws.Close()
			delete(r.members, ws)
		}
	}
}

func writeConn(ws *websocket.Conn, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteMessage(websocket.TextMessage, payload)
}

func (h *Hub) UpdateCursor(documentID string, ws *websocket.Conn, cursor models.Cursor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.memberLocked(documentID, ws); m != nil {
		m.cursor = &cursor
	}
}

func (h *Hub) UpdateTyping(documentID string, ws *websocket.Conn, isTyping bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.memberLocked(documentID, ws); m != nil {
		m.isTyping = isTyping
	}
}

// Users returns the current presence snapshot for a document.
func (h *Hub) Users(documentID string) []models.CollaborationUser {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[documentID]; ok {
		return r.usersLocked()
	}
	return nil
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := 0
	for _, r := range h.rooms {
		clients += len(r.members)
	}
	return Stats{Documents: len(h.rooms), Clients: clients}
}

func (h *Hub) roomLocked(documentID string) *room {
	r, ok := h.rooms[documentID]
	if !ok {
		r = &room{members: make(map[*websocket.Conn]*member)}
		h.rooms[documentID] = r
	}
	return r
}

func (h *Hub) memberLocked(documentID string, ws *websocket.Conn) *member {
	if r, ok := h.rooms[documentID]; ok {
		return r.members[ws]
	}
	return nil
}

func (r *room) usersLocked() []models.CollaborationUser {
	users := make([]models.CollaborationUser, 0, len(r.members))
	for _, m := range r.members {
		users = append(users, models.CollaborationUser{
			ConnectionID: m.connectionID,
			UserID:       m.userID,
			Cursor:       m.cursor,
			IsTyping:     m.isTyping,
		})
	}
	return users
}
