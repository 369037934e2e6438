package client

import (
	"encoding/json"
	"log"

	"annothub/internal/presence"
	"annothub/pkg/models"
)

// Callbacks are invoked for remote events that survive echo
// suppression. Nil callbacks are skipped.
type Callbacks struct {
	OnAnnotationCreated func(data json.RawMessage)
	OnAnnotationUpdated func(data json.RawMessage)
	OnAnnotationDeleted func(data json.RawMessage)
	OnPresenceChanged   func(users []models.CollaborationUser)
	OnError             func(message string)
}

// Router dispatches inbound envelopes by type. Any userId-bearing
// message whose userId equals the local user's is an echo of our own
// action and never reaches a callback or the registry.
type Router struct {
	userID   string
	registry *Registry
	cb       Callbacks
}

func NewRouter(userID string, registry *Registry, cb Callbacks) *Router {
	return &Router{userID: userID, registry: registry, cb: cb}
}

func (r *Router) Registry() *Registry { return r.registry }

func (r *Router) Dispatch(env presence.Envelope) {
	switch env.Type {
	case presence.TypeConnectionEstablished:
		log.Printf("[client] connection established")

	case presence.TypeDocumentUsers:
		// Authoritative snapshot: the resync point after a reconnect.
		var data struct {
			Users []models.CollaborationUser `json:"users"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			log.Printf("[client] dropping malformed document_users: %v", err)
			return
		}
		r.registry.ReplaceAll(data.Users)
		r.presenceChanged()

	case presence.TypeUserJoined:
		if r.suppress(env.UserID) {
			return
		}
		var data struct {
			ConnectionID string `json:"connectionId"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			log.Printf("[client] dropping malformed user_joined: %v", err)
			return
		}
		r.registry.Add(models.CollaborationUser{ConnectionID: data.ConnectionID, UserID: env.UserID})
		r.presenceChanged()

	case presence.TypeUserLeft:
		if r.suppress(env.UserID) {
			return
		}
		r.registry.Remove(env.UserID)
		r.presenceChanged()

	case presence.TypeAnnotationCreated:
		if r.suppress(env.UserID) {
			return
		}
		if r.cb.OnAnnotationCreated != nil {
			r.cb.OnAnnotationCreated(env.Data)
		}

	case presence.TypeAnnotationUpdated:
		if r.suppress(env.UserID) {
			return
		}
		if r.cb.OnAnnotationUpdated != nil {
			r.cb.OnAnnotationUpdated(env.Data)
		}

	case presence.TypeAnnotationDeleted:
		if r.suppress(env.UserID) {
			return
		}
		if r.cb.OnAnnotationDeleted != nil {
			r.cb.OnAnnotationDeleted(env.Data)
		}

	case presence.TypeCursorMove:
		if r.suppress(env.UserID) {
			return
		}
		var data presence.CursorMoveData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			log.Printf("[client] dropping malformed cursor_move: %v", err)
			return
		}
		r.registry.SetCursor(env.UserID, models.Cursor{Page: data.Page, X: data.X, Y: data.Y})
		r.presenceChanged()

	case presence.TypeUserTyping:
		if r.suppress(env.UserID) {
			return
		}
		var data presence.UserTypingData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			log.Printf("[client] dropping malformed user_typing: %v", err)
			return
		}
		r.registry.SetTyping(env.UserID, data.IsTyping)
		r.presenceChanged()

	case presence.TypeError:
		var data presence.ErrorData
		_ = json.Unmarshal(env.Data, &data)
		if r.cb.OnError != nil {
			r.cb.OnError(data.Message)
		}

	default:
		log.Printf("[client] ignoring unknown message type %q", env.Type)
	}
}

func (r *Router) suppress(userID string) bool {
	return userID != "" && userID == r.userID
}

func (r *Router) presenceChanged() {
	if r.cb.OnPresenceChanged != nil {
		r.cb.OnPresenceChanged(r.registry.Snapshot())
	}
}
