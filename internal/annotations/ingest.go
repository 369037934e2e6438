package annotations

import (
	"context"
	"errors"
	"time"

	"annothub/pkg/models"
)

// ItemResult reports the fate of one batch item, in submission order.
type ItemResult struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Processor runs the batch ingest protocol against a Store.
type Processor struct {
	Store Store
	Now   func() time.Time
}

func NewProcessor(store Store) *Processor {
	return &Processor{Store: store, Now: time.Now}
}

// ProcessBatch normalizes and ingests a batch of native annotations for
// one document. Items are handled independently: a bad item yields a
// per-item error status and never aborts the rest. Duplicate ids, both
// against stored state and earlier items in the same batch, resolve to
// "skipped" so resubmitting a batch is idempotent.
func (p *Processor) ProcessBatch(ctx context.Context, documentID string, items []Native) ([]ItemResult, []models.Annotation, error) {
	results := make([]ItemResult, 0, len(items))
	created := make([]models.Annotation, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	now := p.Now().UTC()

	for _, item := range items {
		ann, err := Normalize(item, documentID, now)
		if err != nil {
			if !errors.Is(err, ErrValidation) {
				return nil, nil, err
			}
			results = append(results, ItemResult{
				ID:      item.ID,
				Status:  models.StatusError,
				Message: err.Error(),
			})
			continue
		}

		if _, dup := seen[ann.ID]; dup {
			results = append(results, ItemResult{
				ID:      ann.ID,
				Status:  models.StatusSkipped,
				Message: "duplicate id within batch",
			})
			continue
		}
		seen[ann.ID] = struct{}{}

		inserted, err := p.Store.PutIfAbsent(ctx, ann)
		if err != nil {
			return nil, nil, err
		}
		if !inserted {
			results = append(results, ItemResult{
				ID:      ann.ID,
				Status:  models.StatusSkipped,
				Message: "already exists",
			})
			continue
		}

		created = append(created, ann)
		results = append(results, ItemResult{
			ID:     ann.ID,
			Status: models.StatusCreated,
		})
	}

	return results, created, nil
}
