// Package attachments provides the PostgreSQL-backed repository for
// encrypted document attachments.
package attachments

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

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts attachment metadata with upload_status=pending.
func (r *PostgresRepository) Create(ctx context.Context, att *models.Attachment) error {
	query := `
		INSERT INTO record_attachments (id, record_id, storage_key, encrypted_file_key, nonce, upload_status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
	`
	now := time.Now()
	if _, err := r.db.ExecContext(ctx, query,
		att.ID, att.RecordID, att.StorageKey, att.EncryptedFileKey, att.Nonce, now); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	att.UploadStatus = "pending"
	att.CreatedAt = now
	return nil
}

// Get returns an attachment by id or common.ErrNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Attachment, error) {
	query := `
		SELECT id, record_id, storage_key, encrypted_file_key, nonce, upload_status, created_at
		FROM record_attachments
		WHERE id = $1
	`
	var att models.Attachment
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&att.ID, &att.RecordID, &att.StorageKey, &att.EncryptedFileKey, &att.Nonce, &att.UploadStatus, &att.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &att, nil
}

// ListByRecord returns a record's attachments.
func (r *PostgresRepository) ListByRecord(ctx context.Context, recordID string) ([]*models.Attachment, error) {
	query := `
		SELECT id, record_id, storage_key, encrypted_file_key, nonce, upload_status, created_at
		FROM record_attachments
		WHERE record_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Attachment
	for rows.Next() {
		var att models.Attachment
		if err := rows.Scan(&att.ID, &att.RecordID, &att.StorageKey, &att.EncryptedFileKey,
			&att.Nonce, &att.UploadStatus, &att.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &att)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkUploaded flips upload_status once the client confirms the PUT.
func (r *PostgresRepository) MarkUploaded(ctx context.Context, id string) error {
	query := `
		UPDATE record_attachments
		SET upload_status = 'uploaded'
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id)
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

// DeleteByRecord removes all attachment rows of a record.
func (r *PostgresRepository) DeleteByRecord(ctx context.Context, recordID string) error {
	query := `
		DELETE FROM record_attachments
		WHERE record_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, recordID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
