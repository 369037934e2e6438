package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"annothub/pkg/models"
)

var (
	ErrNotFound         = errors.New("message not found")
	ErrPermissionDenied = errors.New("permission denied")
)

type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

func (r *Repo) Insert(ctx context.Context, msg models.ChatMessage) error {
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, user_id, user_name, message, message_type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.SessionID, msg.UserID, msg.UserName, msg.Message, msg.MessageType,
		string(metadata), msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// List returns one page of a session's log. Page 1 is the newest slice;
// the underlying query walks newest-first, but every page comes back
// ascending by created_at.
func (r *Repo) List(ctx context.Context, sessionID string, page, limit int) ([]models.ChatMessage, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chat_messages WHERE session_id = ?
	`, sessionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count chat messages: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, session_id, user_id, user_name, message, message_type, metadata, created_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, sessionID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	out, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}

	// newest-first page, flipped to ascending
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, total, nil
}

// ListSince returns messages strictly newer than since, ascending.
func (r *Repo) ListSince(ctx context.Context, sessionID string, since time.Time) ([]models.ChatMessage, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, session_id, user_id, user_name, message, message_type, metadata, created_at
		FROM chat_messages
		WHERE session_id = ? AND created_at > ?
		ORDER BY created_at ASC, id ASC
	`, sessionID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list chat messages since: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// Delete removes a message only when requesterID is its author.
// Ownership is enforced in the statement itself; the follow-up lookup
// runs in the same transaction, so it sees the state the delete saw and
// the 403/404 distinction cannot be skewed by a concurrent delete.
func (r *Repo) Delete(ctx context.Context, messageID, requesterID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM chat_messages
		WHERE id = ? AND user_id = ?
	`, messageID, requesterID)
	if err != nil {
		return fmt.Errorf("delete chat message: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit delete: %w", err)
		}
		return nil
	}

	var exists int
	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM chat_messages WHERE id = ?
	`, messageID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check chat message: %w", err)
	}
	return ErrPermissionDenied
}

func scanMessages(rows *sql.Rows) ([]models.ChatMessage, error) {
	out := make([]models.ChatMessage, 0)
	for rows.Next() {
		var msg models.ChatMessage
		var metadata string
		var created time.Time

		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.UserID, &msg.UserName,
			&msg.Message, &msg.MessageType, &metadata, &created); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}

		if metadata != "" && metadata != "null" {
			if err := json.Unmarshal([]byte(metadata), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		msg.CreatedAt = created
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}
