package records

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
	rows map[string]*models.Record
}

// NewInMemoryRepository constructs an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{rows: make(map[string]*models.Record)}
}

func (r *InMemoryRepository) Create(_ context.Context, record *models.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	c := *record
	r.rows[record.ID] = &c
	return nil
}

func (r *InMemoryRepository) Get(_ context.Context, tenantID, id string) (*models.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok || rec.TenantID != tenantID {
		return nil, common.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*models.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (r *InMemoryRepository) Update(_ context.Context, record *models.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[record.ID]
	if !ok || rec.TenantID != record.TenantID {
		return common.ErrNotFound
	}
	rec.Fields = record.Fields
	rec.UpdatedAt = time.Now()
	return nil
}

func (r *InMemoryRepository) Delete(_ context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok || rec.TenantID != tenantID {
		return common.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}
