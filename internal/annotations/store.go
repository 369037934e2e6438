package annotations

import (
	"context"
	"sort"
	"sync"

	"annothub/pkg/models"
)

// Store is the persistence capability for documents and their
// annotations. PutIfAbsent must be atomic per (documentID, annotation
// id) so at-most-one-creation holds even with concurrent writers.
type Store interface {
	PutDocument(ctx context.Context, doc models.Document) error
	GetDocument(ctx context.Context, documentID string) (*models.Document, error)
	FindDocumentByIdentifier(ctx context.Context, idType, normalized string) (*models.Document, error)

	PutIfAbsent(ctx context.Context, ann models.Annotation) (bool, error)
	GetAnnotation(ctx context.Context, documentID, id string) (*models.Annotation, error)
	ListAnnotations(ctx context.Context, documentID string) ([]models.Annotation, error)
	UpdateAnnotation(ctx context.Context, ann models.Annotation) (bool, error)
	DeleteAnnotation(ctx context.Context, documentID, id string) (bool, error)
	ClearDocument(ctx context.Context, documentID string) (int, error)
}

// MemoryStore keeps everything in process-local maps. Single-instance
// deployments and tests only; multi-instance needs the sqlite store.
type MemoryStore struct {
	mu          sync.Mutex
	documents   map[string]models.Document
	annotations map[string]map[string]models.Annotation
	order       map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents:   make(map[string]models.Document),
		annotations: make(map[string]map[string]models.Annotation),
		order:       make(map[string][]string),
	}
}

func (s *MemoryStore) PutDocument(_ context.Context, doc models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[doc.ID]; !ok {
		s.documents[doc.ID] = doc
	}
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, documentID string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (s *MemoryStore) FindDocumentByIdentifier(_ context.Context, idType, normalized string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.documents))
	for id := range s.documents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		doc := s.documents[id]
		if doc.Identifier.Type == idType && doc.Identifier.Normalized == normalized {
			return &doc, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, ann models.Annotation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.annotations[ann.DocumentID]
	if !ok {
		byID = make(map[string]models.Annotation)
		s.annotations[ann.DocumentID] = byID
	}
	if _, exists := byID[ann.ID]; exists {
		return false, nil
	}
	byID[ann.ID] = ann
	s.order[ann.DocumentID] = append(s.order[ann.DocumentID], ann.ID)
	return true, nil
}

func (s *MemoryStore) GetAnnotation(_ context.Context, documentID, id string) (*models.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ann, ok := s.annotations[documentID][id]
	if !ok {
		return nil, nil
	}
	return &ann, nil
}

func (s *MemoryStore) ListAnnotations(_ context.Context, documentID string) ([]models.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.annotations[documentID]
	out := make([]models.Annotation, 0, len(byID))
	for _, id := range s.order[documentID] {
		if ann, ok := byID[id]; ok {
			out = append(out, ann)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAnnotation(_ context.Context, ann models.Annotation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.annotations[ann.DocumentID]
	if !ok {
		return false, nil
	}
	if _, exists := byID[ann.ID]; !exists {
		return false, nil
	}
	byID[ann.ID] = ann
	return true, nil
}

func (s *MemoryStore) DeleteAnnotation(_ context.Context, documentID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.annotations[documentID]
	if !ok {
		return false, nil
	}
	if _, exists := byID[id]; !exists {
		return false, nil
	}
	delete(byID, id)
	return true, nil
}

func (s *MemoryStore) ClearDocument(_ context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.annotations[documentID])
	delete(s.annotations, documentID)
	delete(s.order, documentID)
	return n, nil
}
