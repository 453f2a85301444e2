package audit

import (
	"context"
	"sync"

	"github.com/medkeep/phivault/internal/server/models"
)

// InMemoryRepository is an append-only in-memory sink used by tests.
type InMemoryRepository struct {
	mu     sync.Mutex
	events []*models.AuditEvent
}

// NewInMemoryRepository constructs an empty in-memory sink.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

func (r *InMemoryRepository) Append(_ context.Context, event *models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := *event
	r.events = append(r.events, &e)
	return nil
}

func (r *InMemoryRepository) ListBySubject(_ context.Context, subjectID string, limit int) ([]*models.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.AuditEvent
	for i := len(r.events) - 1; i >= 0 && len(result) < limit; i-- {
		if r.events[i].SubjectID == subjectID {
			e := *r.events[i]
			result = append(result, &e)
		}
	}
	return result, nil
}

// All returns every stored event in append order. Test helper.
func (r *InMemoryRepository) All() []*models.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.AuditEvent, len(r.events))
	copy(out, r.events)
	return out
}
