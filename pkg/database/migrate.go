package database

import (
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    document_id           TEXT PRIMARY KEY,
    identifier_type       TEXT NOT NULL,
    identifier_value      TEXT NOT NULL,
    identifier_normalized TEXT NOT NULL,
    title                 TEXT NOT NULL,
    authors               TEXT NOT NULL DEFAULT '[]',
    publication           TEXT NOT NULL DEFAULT '',
    year                  INTEGER NOT NULL DEFAULT 0,
    created_at            TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_documents_identifier
    ON documents (identifier_type, identifier_normalized);

CREATE TABLE IF NOT EXISTS annotations (
    document_id TEXT NOT NULL,
    id          TEXT NOT NULL,
    type        TEXT NOT NULL,
    text        TEXT NOT NULL DEFAULT '',
    comment     TEXT NOT NULL DEFAULT '',
    color       TEXT NOT NULL DEFAULT '',
    position    TEXT NOT NULL DEFAULT '{}',
    platform    TEXT NOT NULL DEFAULT '',
    author      TEXT NOT NULL DEFAULT '',
    tags        TEXT NOT NULL DEFAULT '[]',
    visibility  TEXT NOT NULL DEFAULT '',
    version     INTEGER NOT NULL DEFAULT 1,
    created_at  TIMESTAMP NOT NULL,
    modified_at TIMESTAMP NOT NULL,
    PRIMARY KEY (document_id, id),
    FOREIGN KEY (document_id) REFERENCES documents (document_id)
);

CREATE TABLE IF NOT EXISTS chat_messages (
    id           TEXT PRIMARY KEY,
    session_id   TEXT NOT NULL,
    user_id      TEXT NOT NULL,
    user_name    TEXT NOT NULL,
    message      TEXT NOT NULL,
    message_type TEXT NOT NULL DEFAULT 'text',
    metadata     TEXT NOT NULL DEFAULT '{}',
    created_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_session_created
    ON chat_messages (session_id, created_at);
`

func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
