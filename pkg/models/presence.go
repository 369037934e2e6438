package models

// Cursor is a user's ephemeral position within a document.
type Cursor struct {
	Page int     `json:"page"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// CollaborationUser is one user present in a shared document session.
// Cursor and typing state are never persisted.
type CollaborationUser struct {
	ConnectionID string  `json:"connectionId"`
	UserID       string  `json:"userId"`
	Cursor       *Cursor `json:"cursor,omitempty"`
	IsTyping     bool    `json:"isTyping,omitempty"`
}
