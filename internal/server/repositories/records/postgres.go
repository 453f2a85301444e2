// Package records provides the PostgreSQL-backed repository for encrypted
// clinical record rows.
package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/medkeep/phivault/internal/common"
	"github.com/medkeep/phivault/internal/dbx"
	"github.com/medkeep/phivault/internal/server/models"
	"github.com/medkeep/phivault/internal/server/phi"
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

// Create inserts a new record row with its field map serialized to JSON.
func (r *PostgresRepository) Create(ctx context.Context, record *models.Record) error {
	fields, err := json.Marshal(record.Fields)
	if err != nil {
		return fmt.Errorf("marshaling fields: %w", err)
	}
	query := `
		INSERT INTO records (id, tenant_id, record_type, fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	now := time.Now()
	if _, err := r.db.ExecContext(ctx, query,
		record.ID, record.TenantID, string(record.RecordType), string(fields), now, now); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	record.CreatedAt = now
	record.UpdatedAt = now
	return nil
}

// Get returns a tenant's record by id. If not found, it returns common.ErrNotFound.
func (r *PostgresRepository) Get(ctx context.Context, tenantID, id string) (*models.Record, error) {
	query := `
		SELECT id, tenant_id, record_type, fields, created_at, updated_at
		FROM records
		WHERE id = $1 AND tenant_id = $2
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id, tenantID))
}

// GetByID returns a record by id regardless of tenant.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Record, error) {
	query := `
		SELECT id, tenant_id, record_type, fields, created_at, updated_at
		FROM records
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// Update replaces the field map of an existing record.
func (r *PostgresRepository) Update(ctx context.Context, record *models.Record) error {
	fields, err := json.Marshal(record.Fields)
	if err != nil {
		return fmt.Errorf("marshaling fields: %w", err)
	}
	query := `
		UPDATE records
		SET fields = $3, updated_at = $4
		WHERE id = $1 AND tenant_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, record.ID, record.TenantID, string(fields), time.Now())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// Delete removes a tenant's record row.
func (r *PostgresRepository) Delete(ctx context.Context, tenantID, id string) error {
	query := `
		DELETE FROM records
		WHERE id = $1 AND tenant_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, id, tenantID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Record, error) {
	var (
		record    models.Record
		rt        string
		fieldsRaw string
	)
	if err := row.Scan(&record.ID, &record.TenantID, &rt, &fieldsRaw, &record.CreatedAt, &record.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	record.RecordType = phi.RecordType(rt)
	if err := json.Unmarshal([]byte(fieldsRaw), &record.Fields); err != nil {
		return nil, fmt.Errorf("unmarshaling fields: %w", err)
	}
	return &record, nil
}
