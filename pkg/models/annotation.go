package models

import "time"

// Annotation types accepted from any client platform.
const (
	TypeHighlight = "highlight"
	TypeNote      = "note"
	TypeImage     = "image"
	TypeDrawing   = "drawing"
)

// Ingest statuses reported per batch item.
const (
	StatusCreated = "created"
	StatusUpdated = "updated"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// AnnotationContent is the platform-neutral payload of an annotation.
// At least one of Text or Comment must be non-empty.
type AnnotationContent struct {
	Text     string         `json:"text,omitempty"`
	Comment  string         `json:"comment,omitempty"`
	Color    string         `json:"color,omitempty"`
	Position map[string]any `json:"position,omitempty"`
}

type AnnotationMetadata struct {
	Platform    string         `json:"platform,omitempty"`
	Author      string         `json:"author,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Visibility  string         `json:"visibility,omitempty"`
	Permissions map[string]any `json:"permissions,omitempty"`
}

// Annotation is the universal schema every native format converts to.
// ID is unique within a DocumentID; resubmitting an existing ID is a no-op.
type Annotation struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	DocumentID string             `json:"documentId"`
	CreatedAt  time.Time          `json:"createdAt"`
	ModifiedAt time.Time          `json:"modifiedAt"`
	Version    int                `json:"version"`
	Content    AnnotationContent  `json:"content"`
	Metadata   AnnotationMetadata `json:"metadata"`
}

func ValidType(t string) bool {
	switch t {
	case TypeHighlight, TypeNote, TypeImage, TypeDrawing:
		return true
	}
	return false
}
