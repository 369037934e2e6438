package annotations

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"annothub/pkg/models"
)

// ErrValidation means a native annotation cannot be converted into the
// universal schema.
var ErrValidation = errors.New("validation failed")

// Native is an annotation as submitted by a client platform, before
// normalization. Field presence is best-effort; Normalize fills gaps.
type Native struct {
	ID        string                    `json:"id"`
	Type      string                    `json:"type"`
	CreatedAt *time.Time                `json:"createdAt,omitempty"`
	Version   int                       `json:"version,omitempty"`
	Content   models.AnnotationContent  `json:"content"`
	Metadata  models.AnnotationMetadata `json:"metadata"`
}

// Normalize converts a platform-native annotation into the universal
// schema. The annotation keeps its original authoring time when given;
// ModifiedAt is always the ingestion time.
func Normalize(native Native, documentID string, now time.Time) (models.Annotation, error) {
	if !models.ValidType(native.Type) {
		return models.Annotation{}, fmt.Errorf("%w: unsupported type %q", ErrValidation, native.Type)
	}
	if strings.TrimSpace(native.Content.Text) == "" && strings.TrimSpace(native.Content.Comment) == "" {
		return models.Annotation{}, fmt.Errorf("%w: content requires text or comment", ErrValidation)
	}

	id := strings.TrimSpace(native.ID)
	if id == "" {
		id = uuid.NewString()
	}

	createdAt := now
	if native.CreatedAt != nil && !native.CreatedAt.IsZero() {
		createdAt = native.CreatedAt.UTC()
	}

	version := native.Version
	if version <= 0 {
		version = 1
	}

	return models.Annotation{
		ID:         id,
		Type:       native.Type,
		DocumentID: documentID,
		CreatedAt:  createdAt,
		ModifiedAt: now,
		Version:    version,
		Content:    native.Content,
		Metadata:   native.Metadata,
	}, nil
}
