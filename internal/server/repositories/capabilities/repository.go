// Package capabilities declares the repository contract for share
// capabilities: the token-indexed rows whose single-row state transitions
// implement the capability lifecycle.
package capabilities

import (
	"context"
	"time"

	"github.com/medkeep/phivault/internal/server/models"
)

// Repository persists share capabilities. Implementations must make Redeem a
// single serializable conditional update: concurrent redemptions near the
// usage ceiling must never let more than max_uses attempts through.
type Repository interface {
	// Create inserts a capability in active state. The token column is
	// unique; inserting a duplicate token fails.
	Create(ctx context.Context, cap *models.ShareCapability) error

	// TokenExists reports whether a capability with the token already exists.
	// Issuance checks this before accepting a generated token.
	TokenExists(ctx context.Context, token string) (bool, error)

	// FindByToken returns the capability by exact token match, or
	// common.ErrNotFound.
	FindByToken(ctx context.Context, token string) (*models.ShareCapability, error)

	// Get returns a tenant's capability by id, or common.ErrNotFound.
	Get(ctx context.Context, tenantID, id string) (*models.ShareCapability, error)

	// ListByRecord returns a tenant's capabilities for one record, newest first.
	ListByRecord(ctx context.Context, tenantID, recordID string) ([]*models.ShareCapability, error)

	// MarkExpired flips an active capability to expired. Flipping a
	// capability that is no longer active is a no-op (lazy expiry races are
	// benign: someone else already observed it).
	MarkExpired(ctx context.Context, id string) error

	// Redeem atomically increments the redemption count and, when the count
	// reaches max_uses, sets state=used in the same statement. It also
	// records last-redeemed metadata and clears the PIN-failure counter.
	// Returns the new count and state, or common.ErrInvalid when the row is
	// not active or the ceiling is already reached.
	Redeem(ctx context.Context, id string, now time.Time, origin string) (int, models.CapabilityState, error)

	// Revoke flips an active capability to revoked. Revoking a capability in
	// any terminal state is a no-op success.
	Revoke(ctx context.Context, id string) error

	// RevokeAllForRecord revokes every active capability of a record. Called
	// when the record is deleted.
	RevokeAllForRecord(ctx context.Context, recordID string) error

	// IncrementPINFailures bumps the consecutive wrong-PIN counter.
	IncrementPINFailures(ctx context.Context, id string) error

	// DeleteExpiredBefore removes rows whose expiry predates the cutoff.
	// Storage hygiene only: the expired transition itself is lazy and never
	// depends on this.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
