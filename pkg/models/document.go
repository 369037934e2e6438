package models

import "time"

// Identifier kinds a document can arrive with.
const (
	IdentifierDOI         = "doi"
	IdentifierISBN        = "isbn"
	IdentifierPMID        = "pmid"
	IdentifierPlatformKey = "platform-key"
)

// Identifier is a raw external document identifier plus its normalized form.
// It is derived per request and never persisted as its own entity.
type Identifier struct {
	Type       string `json:"type"`
	Value      string `json:"value"`
	Normalized string `json:"normalized,omitempty"`
}

// Document is the canonical record annotations attach to.
type Document struct {
	ID          string     `json:"documentId"`
	Identifier  Identifier `json:"identifier"`
	Title       string     `json:"title"`
	Authors     []string   `json:"authors,omitempty"`
	Publication string     `json:"publication,omitempty"`
	Year        int        `json:"year,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}
