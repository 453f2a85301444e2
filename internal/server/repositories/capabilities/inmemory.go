package capabilities

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/medkeep/phivault/internal/common"
	"github.com/medkeep/phivault/internal/server/models"
)

// InMemoryRepository is a mutex-serialized Repository used by tests and by
// deployments without a database. Redeem holds the lock across the
// check-and-increment, giving the same no-double-spend guarantee the
// Postgres implementation gets from its single conditional UPDATE.
type InMemoryRepository struct {
	mu      sync.Mutex
	byID    map[string]*models.ShareCapability
	byToken map[string]string // token -> id
}

// NewInMemoryRepository constructs an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byID:    make(map[string]*models.ShareCapability),
		byToken: make(map[string]string),
	}
}

func (r *InMemoryRepository) Create(_ context.Context, cap *models.ShareCapability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byToken[cap.Token]; taken {
		return common.ErrInternal
	}
	c := *cap
	c.State = models.CapabilityActive
	r.byID[c.ID] = &c
	r.byToken[c.Token] = c.ID
	return nil
}

func (r *InMemoryRepository) TokenExists(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byToken[token]
	return ok, nil
}

func (r *InMemoryRepository) FindByToken(_ context.Context, token string) (*models.ShareCapability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byToken[token]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *r.byID[id]
	return &c, nil
}

func (r *InMemoryRepository) Get(_ context.Context, tenantID, id string) (*models.ShareCapability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cap, ok := r.byID[id]
	if !ok || cap.TenantID != tenantID {
		return nil, common.ErrNotFound
	}
	c := *cap
	return &c, nil
}

func (r *InMemoryRepository) ListByRecord(_ context.Context, tenantID, recordID string) ([]*models.ShareCapability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.ShareCapability
	for _, cap := range r.byID {
		if cap.TenantID == tenantID && cap.RecordID == recordID {
			c := *cap
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (r *InMemoryRepository) MarkExpired(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cap, ok := r.byID[id]; ok && cap.State == models.CapabilityActive {
		cap.State = models.CapabilityExpired
	}
	return nil
}

func (r *InMemoryRepository) Redeem(_ context.Context, id string, now time.Time, origin string) (int, models.CapabilityState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cap, ok := r.byID[id]
	if !ok || cap.State != models.CapabilityActive || cap.RedemptionCount >= cap.MaxUses {
		return 0, "", common.ErrInvalid
	}
	cap.RedemptionCount++
	if cap.RedemptionCount >= cap.MaxUses {
		cap.State = models.CapabilityUsed
	}
	cap.PINFailures = 0
	t := now
	cap.LastRedeemedAt = &t
	cap.LastRedeemedOrigin = origin
	return cap.RedemptionCount, cap.State, nil
}

func (r *InMemoryRepository) Revoke(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cap, ok := r.byID[id]; ok && cap.State == models.CapabilityActive {
		cap.State = models.CapabilityRevoked
	}
	return nil
}

func (r *InMemoryRepository) RevokeAllForRecord(_ context.Context, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cap := range r.byID {
		if cap.RecordID == recordID && cap.State == models.CapabilityActive {
			cap.State = models.CapabilityRevoked
		}
	}
	return nil
}

func (r *InMemoryRepository) IncrementPINFailures(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cap, ok := r.byID[id]; ok {
		cap.PINFailures++
	}
	return nil
}

func (r *InMemoryRepository) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, cap := range r.byID {
		if cap.ExpiresAt.Before(cutoff) {
			delete(r.byToken, cap.Token)
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}
