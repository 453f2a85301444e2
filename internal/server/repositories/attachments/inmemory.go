package attachments

import (
	"context"
	"sync"
	"time"

	"github.com/medkeep/phivault/internal/common"
	"github.com/medkeep/phivault/internal/server/models"
)

// InMemoryRepository is a mutex-protected Repository used by tests.
type InMemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*models.Attachment
}

// NewInMemoryRepository constructs an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{rows: make(map[string]*models.Attachment)}
}

func (r *InMemoryRepository) Create(_ context.Context, att *models.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	att.UploadStatus = "pending"
	att.CreatedAt = time.Now()
	c := *att
	r.rows[att.ID] = &c
	return nil
}

func (r *InMemoryRepository) Get(_ context.Context, id string) (*models.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	att, ok := r.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *att
	return &c, nil
}

func (r *InMemoryRepository) ListByRecord(_ context.Context, recordID string) ([]*models.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Attachment
	for _, att := range r.rows {
		if att.RecordID == recordID {
			c := *att
			result = append(result, &c)
		}
	}
	return result, nil
}

func (r *InMemoryRepository) MarkUploaded(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	att, ok := r.rows[id]
	if !ok {
		return common.ErrNotFound
	}
	att.UploadStatus = "uploaded"
	return nil
}

func (r *InMemoryRepository) DeleteByRecord(_ context.Context, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, att := range r.rows {
		if att.RecordID == recordID {
			delete(r.rows, id)
		}
	}
	return nil
}
