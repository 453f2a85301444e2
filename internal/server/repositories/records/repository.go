// Package records declares the repository contract for encrypted clinical
// record rows.
package records

import (
	"context"

	"github.com/medkeep/phivault/internal/server/models"
)

// Repository persists records whose sensitive fields are already encrypted.
// The repository never sees plaintext PHI; the field mapper runs above it.
type Repository interface {
	// Create inserts a new record row.
	Create(ctx context.Context, record *models.Record) error

	// Get returns a tenant's record by id, or common.ErrNotFound.
	Get(ctx context.Context, tenantID, id string) (*models.Record, error)

	// GetByID returns a record regardless of tenant. Used by redemption,
	// where access is authorized by token possession rather than identity.
	GetByID(ctx context.Context, id string) (*models.Record, error)

	// Update replaces the field map of an existing record.
	Update(ctx context.Context, record *models.Record) error

	// Delete removes a tenant's record. The caller is responsible for
	// cascade-invalidating the record's capabilities in the same transaction.
	Delete(ctx context.Context, tenantID, id string) error
}
