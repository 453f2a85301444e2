// Package capabilities provides the PostgreSQL-backed repository for share
// capabilities.
package capabilities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/medkeep/phivault/internal/common"
	"github.com/medkeep/phivault/internal/dbx"
	"github.com/medkeep/phivault/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const capabilityColumns = `id, tenant_id, record_id, token, pin_hash, scope_kind, scope_fields, recipient,
		created_at, expires_at, max_uses, redemption_count, state, pin_failures,
		last_redeemed_at, last_redeemed_origin`

// Create inserts a capability in active state.
func (r *PostgresRepository) Create(ctx context.Context, cap *models.ShareCapability) error {
	query := `
		INSERT INTO share_capabilities
			(id, tenant_id, record_id, token, pin_hash, scope_kind, scope_fields, recipient,
			 created_at, expires_at, max_uses, redemption_count, state, pin_failures)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, 'active', 0)
	`
	if _, err := r.db.ExecContext(ctx, query,
		cap.ID, cap.TenantID, cap.RecordID, cap.Token, cap.PINHash,
		string(cap.Scope.Kind), encodeScopeFields(cap.Scope.Fields), cap.Recipient,
		cap.CreatedAt, cap.ExpiresAt, cap.MaxUses); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// TokenExists reports whether the token is already taken.
func (r *PostgresRepository) TokenExists(ctx context.Context, token string) (bool, error) {
	query := `
		SELECT EXISTS (SELECT 1 FROM share_capabilities WHERE token = $1)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, token).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

// FindByToken returns the capability by exact token match or common.ErrNotFound.
func (r *PostgresRepository) FindByToken(ctx context.Context, token string) (*models.ShareCapability, error) {
	query := `
		SELECT ` + capabilityColumns + `
		FROM share_capabilities
		WHERE token = $1
	`
	return scanCapability(r.db.QueryRowContext(ctx, query, token))
}

// Get returns a tenant's capability by id or common.ErrNotFound.
func (r *PostgresRepository) Get(ctx context.Context, tenantID, id string) (*models.ShareCapability, error) {
	query := `
		SELECT ` + capabilityColumns + `
		FROM share_capabilities
		WHERE id = $1 AND tenant_id = $2
	`
	return scanCapability(r.db.QueryRowContext(ctx, query, id, tenantID))
}

// ListByRecord returns a tenant's capabilities for one record, newest first.
func (r *PostgresRepository) ListByRecord(ctx context.Context, tenantID, recordID string) ([]*models.ShareCapability, error) {
	query := `
		SELECT ` + capabilityColumns + `
		FROM share_capabilities
		WHERE tenant_id = $1 AND record_id = $2
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, recordID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.ShareCapability
	for rows.Next() {
		cap, err := scanCapability(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkExpired flips active -> expired. Losing the race to another observer
// is fine: rows affected 0 is not an error.
func (r *PostgresRepository) MarkExpired(ctx context.Context, id string) error {
	query := `
		UPDATE share_capabilities
		SET state = 'expired'
		WHERE id = $1 AND state = 'active'
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Redeem is the one operation needing true concurrency control: the
// increment and the possible active -> used transition happen in a single
// conditional UPDATE, so N concurrent attempts against a ceiling of N-k can
// never all pass. Rows affected 0 means another redeemer consumed the last
// slot (or the row left active state); that maps to common.ErrInvalid.
func (r *PostgresRepository) Redeem(ctx context.Context, id string, now time.Time, origin string) (int, models.CapabilityState, error) {
	query := `
		UPDATE share_capabilities
		SET redemption_count = redemption_count + 1,
			state = CASE WHEN redemption_count + 1 >= max_uses THEN 'used' ELSE state END,
			pin_failures = 0,
			last_redeemed_at = $2,
			last_redeemed_origin = $3
		WHERE id = $1 AND state = 'active' AND redemption_count < max_uses
		RETURNING redemption_count, state
	`
	var (
		count int
		state string
	)
	if err := r.db.QueryRowContext(ctx, query, id, now, origin).Scan(&count, &state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", common.ErrInvalid
		}
		return 0, "", fmt.Errorf("db error: %w", err)
	}
	return count, models.CapabilityState(state), nil
}

// Revoke flips active -> revoked. Idempotent: a terminal row is untouched
// and no error is returned, so revocation never leaks state.
func (r *PostgresRepository) Revoke(ctx context.Context, id string) error {
	query := `
		UPDATE share_capabilities
		SET state = 'revoked'
		WHERE id = $1 AND state = 'active'
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// RevokeAllForRecord revokes every active capability of a record.
func (r *PostgresRepository) RevokeAllForRecord(ctx context.Context, recordID string) error {
	query := `
		UPDATE share_capabilities
		SET state = 'revoked'
		WHERE record_id = $1 AND state = 'active'
	`
	if _, err := r.db.ExecContext(ctx, query, recordID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// IncrementPINFailures bumps the consecutive wrong-PIN counter.
func (r *PostgresRepository) IncrementPINFailures(ctx context.Context, id string) error {
	query := `
		UPDATE share_capabilities
		SET pin_failures = pin_failures + 1
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteExpiredBefore removes long-expired rows for storage hygiene.
func (r *PostgresRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM share_capabilities
		WHERE expires_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCapability(row scanner) (*models.ShareCapability, error) {
	var (
		cap         models.ShareCapability
		scopeKind   string
		scopeFields string
		state       string
		redeemedAt  sql.NullTime
	)
	err := row.Scan(
		&cap.ID, &cap.TenantID, &cap.RecordID, &cap.Token, &cap.PINHash,
		&scopeKind, &scopeFields, &cap.Recipient,
		&cap.CreatedAt, &cap.ExpiresAt, &cap.MaxUses, &cap.RedemptionCount,
		&state, &cap.PINFailures, &redeemedAt, &cap.LastRedeemedOrigin,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	cap.Scope = models.Scope{Kind: models.ScopeKind(scopeKind), Fields: decodeScopeFields(scopeFields)}
	cap.State = models.CapabilityState(state)
	if redeemedAt.Valid {
		t := redeemedAt.Time
		cap.LastRedeemedAt = &t
	}
	return &cap, nil
}
