// Package audit declares the append-only repository contract for audit
// events.
package audit

import (
	"context"

	"github.com/medkeep/phivault/internal/server/models"
)

// Repository is an append-only sink. There is no update or delete: an audit
// event is written once and never touched again.
type Repository interface {
	// Append stores one event.
	Append(ctx context.Context, event *models.AuditEvent) error

	// ListBySubject returns events for a subject id, newest first, up to limit.
	ListBySubject(ctx context.Context, subjectID string, limit int) ([]*models.AuditEvent, error)
}
