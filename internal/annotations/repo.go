package annotations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"annothub/pkg/models"
)

// Repo is the sqlite-backed Store. INSERT OR IGNORE on the
// (document_id, id) primary key gives the transactional put-if-absent
// that keeps at-most-one-creation true under concurrent writers.
type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

var _ Store = (*Repo)(nil)

func (r *Repo) PutDocument(ctx context.Context, doc models.Document) error {
	authors, err := json.Marshal(doc.Authors)
	if err != nil {
		return fmt.Errorf("marshal authors: %w", err)
	}

	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO documents (document_id, identifier_type, identifier_value, identifier_normalized,
			title, authors, publication, year, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(document_id) DO NOTHING
	`, doc.ID, doc.Identifier.Type, doc.Identifier.Value, doc.Identifier.Normalized,
		doc.Title, string(authors), doc.Publication, doc.Year)
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}
	return nil
}

func (r *Repo) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT document_id, identifier_type, identifier_value, identifier_normalized,
			title, authors, publication, year, created_at
		FROM documents
		WHERE document_id = ?
	`, documentID)
	return scanDocument(row)
}

func (r *Repo) FindDocumentByIdentifier(ctx context.Context, idType, normalized string) (*models.Document, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT document_id, identifier_type, identifier_value, identifier_normalized,
			title, authors, publication, year, created_at
		FROM documents
		WHERE identifier_type = ? AND identifier_normalized = ?
	`, idType, normalized)
	return scanDocument(row)
}

func scanDocument(row *sql.Row) (*models.Document, error) {
	var doc models.Document
	var authors string
	var created time.Time

	err := row.Scan(&doc.ID, &doc.Identifier.Type, &doc.Identifier.Value, &doc.Identifier.Normalized,
		&doc.Title, &authors, &doc.Publication, &doc.Year, &created)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get document: %w", err)
	}

	if err := json.Unmarshal([]byte(authors), &doc.Authors); err != nil {
		return nil, fmt.Errorf("unmarshal authors: %w", err)
	}
	doc.CreatedAt = created
	return &doc, nil
}

func (r *Repo) PutIfAbsent(ctx context.Context, ann models.Annotation) (bool, error) {
	position, tags, err := marshalFields(ann)
	if err != nil {
		return false, err
	}

	res, err := r.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO annotations (document_id, id, type, text, comment, color, position,
			platform, author, tags, visibility, version, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ann.DocumentID, ann.ID, ann.Type, ann.Content.Text, ann.Content.Comment, ann.Content.Color,
		position, ann.Metadata.Platform, ann.Metadata.Author, tags, ann.Metadata.Visibility,
		ann.Version, ann.CreatedAt.UTC(), ann.ModifiedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("put annotation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *Repo) GetAnnotation(ctx context.Context, documentID, id string) (*models.Annotation, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT document_id, id, type, text, comment, color, position,
			platform, author, tags, visibility, version, created_at, modified_at
		FROM annotations
		WHERE document_id = ? AND id = ?
	`, documentID, id)
	if err != nil {
		return nil, fmt.Errorf("get annotation: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	ann, err := scanAnnotation(rows)
	if err != nil {
		return nil, err
	}
	return &ann, nil
}

func (r *Repo) ListAnnotations(ctx context.Context, documentID string) ([]models.Annotation, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT document_id, id, type, text, comment, color, position,
			platform, author, tags, visibility, version, created_at, modified_at
		FROM annotations
		WHERE document_id = ?
		ORDER BY modified_at ASC, id ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	var out []models.Annotation
	for rows.Next() {
		ann, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ann)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

func (r *Repo) UpdateAnnotation(ctx context.Context, ann models.Annotation) (bool, error) {
	position, tags, err := marshalFields(ann)
	if err != nil {
		return false, err
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE annotations
		SET type = ?, text = ?, comment = ?, color = ?, position = ?,
			platform = ?, author = ?, tags = ?, visibility = ?,
			version = ?, modified_at = ?
		WHERE document_id = ? AND id = ?
	`, ann.Type, ann.Content.Text, ann.Content.Comment, ann.Content.Color, position,
		ann.Metadata.Platform, ann.Metadata.Author, tags, ann.Metadata.Visibility,
		ann.Version, ann.ModifiedAt.UTC(), ann.DocumentID, ann.ID)
	if err != nil {
		return false, fmt.Errorf("update annotation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *Repo) DeleteAnnotation(ctx context.Context, documentID, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM annotations
		WHERE document_id = ? AND id = ?
	`, documentID, id)
	if err != nil {
		return false, fmt.Errorf("delete annotation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *Repo) ClearDocument(ctx context.Context, documentID string) (int, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM annotations
		WHERE document_id = ?
	`, documentID)
	if err != nil {
		return 0, fmt.Errorf("clear document: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func marshalFields(ann models.Annotation) (position, tags string, err error) {
	p, err := json.Marshal(ann.Content.Position)
	if err != nil {
		return "", "", fmt.Errorf("marshal position: %w", err)
	}
	t, err := json.Marshal(ann.Metadata.Tags)
	if err != nil {
		return "", "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(p), string(t), nil
}

func scanAnnotation(rows *sql.Rows) (models.Annotation, error) {
	var ann models.Annotation
	var position, tags string
	var created, modified time.Time

	err := rows.Scan(&ann.DocumentID, &ann.ID, &ann.Type, &ann.Content.Text, &ann.Content.Comment,
		&ann.Content.Color, &position, &ann.Metadata.Platform, &ann.Metadata.Author, &tags,
		&ann.Metadata.Visibility, &ann.Version, &created, &modified)
	if err != nil {
		return ann, fmt.Errorf("scan annotation: %w", err)
	}

	if position != "" && position != "null" {
		if err := json.Unmarshal([]byte(position), &ann.Content.Position); err != nil {
			return ann, fmt.Errorf("unmarshal position: %w", err)
		}
	}
	if tags != "" && tags != "null" {
		if err := json.Unmarshal([]byte(tags), &ann.Metadata.Tags); err != nil {
			return ann, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	ann.CreatedAt = created
	ann.ModifiedAt = modified
	return ann, nil
}
