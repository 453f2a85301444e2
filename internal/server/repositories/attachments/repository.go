// Package attachments declares the repository contract for encrypted
// document attachments.
package attachments

import (
	"context"

	"github.com/medkeep/phivault/internal/server/models"
)

// Repository persists attachment metadata. File bytes themselves live in
// object storage; only the encrypted file key and nonce are kept here.
type Repository interface {
	// Create inserts attachment metadata with upload_status=pending.
	Create(ctx context.Context, att *models.Attachment) error

	// Get returns an attachment by id, or common.ErrNotFound.
	Get(ctx context.Context, id string) (*models.Attachment, error)

	// ListByRecord returns a record's attachments.
	ListByRecord(ctx context.Context, recordID string) ([]*models.Attachment, error)

	// MarkUploaded flips upload_status to uploaded once the client confirms
	// the object PUT.
	MarkUploaded(ctx context.Context, id string) error

	// DeleteByRecord removes all attachment rows of a record.
	DeleteByRecord(ctx context.Context, recordID string) error
}
