// Package audit provides the PostgreSQL-backed append-only store for audit
// events.
package audit

import (
	"context"
	"fmt"

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

// Append inserts one audit event.
func (r *PostgresRepository) Append(ctx context.Context, event *models.AuditEvent) error {
	query := `
		INSERT INTO audit_events (id, actor, action, subject_id, outcome, reason, origin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := r.db.ExecContext(ctx, query,
		event.ID, event.Actor, string(event.Action), event.SubjectID,
		string(event.Outcome), event.Reason, event.Origin, event.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListBySubject returns events for a subject id, newest first.
func (r *PostgresRepository) ListBySubject(ctx context.Context, subjectID string, limit int) ([]*models.AuditEvent, error) {
	query := `
		SELECT id, actor, action, subject_id, outcome, reason, origin, created_at
		FROM audit_events
		WHERE subject_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.AuditEvent
	for rows.Next() {
		var (
			e       models.AuditEvent
			action  string
			outcome string
		)
		if err := rows.Scan(&e.ID, &e.Actor, &action, &e.SubjectID, &outcome, &e.Reason, &e.Origin, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = models.AuditAction(action)
		e.Outcome = models.AuditOutcome(outcome)
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
