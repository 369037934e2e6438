package models

import "time"

// ChatMessage is one append-only entry in a session's chat log.
type ChatMessage struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"sessionId"`
	UserID      string         `json:"userId"`
	UserName    string         `json:"userName"`
	Message     string         `json:"message"`
	MessageType string         `json:"messageType"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}
