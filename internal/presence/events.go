package presence

import (
	"encoding/json"
	"time"
)

// Message types carried on the presence transport.
const (
	TypeJoinDocument          = "join_document"
	TypeConnectionEstablished = "connection_established"
	TypeDocumentUsers         = "document_users"
	TypeUserJoined            = "user_joined"
	TypeUserLeft              = "user_left"
	TypeAnnotationCreated     = "annotation_created"
	TypeAnnotationUpdated     = "annotation_updated"
	TypeAnnotationDeleted     = "annotation_deleted"
	TypeCursorMove            = "cursor_move"
	TypeUserTyping            = "user_typing"
	TypeError                 = "error"
)

// Envelope is the wire format for every presence message. The server
// always overwrites UserID with the authenticated sender before
// broadcasting; clients rely on that for echo suppression.
type Envelope struct {
	Type      string          `json:"type"`
	UserID    string          `json:"userId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

type JoinDocumentData struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
}

type CursorMoveData struct {
	Page int     `json:"page"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type UserTypingData struct {
	IsTyping bool   `json:"isTyping"`
	Location string `json:"location,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
}

// NewEnvelope marshals data into a stamped envelope. Marshal failures
// cannot happen for our own payload types, so they reduce to an empty
// data field.
func NewEnvelope(msgType, userID string, data any) Envelope {
	now := time.Now().UTC()
	env := Envelope{Type: msgType, UserID: userID, Timestamp: &now}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			env.Data = b
		}
	}
	return env
}
