// Package services contains the server-side business logic of the vault:
// record encryption, capability issuance, redemption, revocation, audit
// emission, and attachment handling.
package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/medkeep/phivault/internal/dbx"
	"github.com/medkeep/phivault/internal/logging"
	"github.com/medkeep/phivault/internal/server/models"
	"github.com/medkeep/phivault/internal/server/repositories/audit"
	"github.com/medkeep/phivault/internal/server/repositories/repomanager"
)

// AuditService emits immutable audit events. Emission is best-effort: a
// failed audit write is logged loudly but never masks the outcome of the
// operation being audited.
//
// Events carry identifiers and outcomes only. Decrypted field values, PINs,
// and tokens must never be passed in.
type AuditService struct {
	db     *sql.DB
	rm     repomanager.RepositoryManager
	logger logging.Logger
}

// NewAuditService constructs the emitter.
func NewAuditService(db *sql.DB, rm repomanager.RepositoryManager, logger logging.Logger) *AuditService {
	return &AuditService{db: db, rm: rm, logger: logger}
}

// Emit appends one event to the audit store.
func (s *AuditService) Emit(ctx context.Context, actor string, action models.AuditAction, subjectID string, outcome models.AuditOutcome, reason, origin string) {
	s.emit(ctx, s.rm.Audit(s.db), actor, action, subjectID, outcome, reason, origin)
}

// EmitTx appends one event using a transactional handle, so the event
// commits or rolls back together with the operation it describes.
func (s *AuditService) EmitTx(ctx context.Context, tx dbx.DBTX, actor string, action models.AuditAction, subjectID string, outcome models.AuditOutcome, reason, origin string) {
	s.emit(ctx, s.rm.Audit(tx), actor, action, subjectID, outcome, reason, origin)
}

func (s *AuditService) emit(ctx context.Context, repo audit.Repository, actor string, action models.AuditAction, subjectID string, outcome models.AuditOutcome, reason, origin string) {
	event := &models.AuditEvent{
		ID:        uuid.NewString(),
		Actor:     actor,
		Action:    action,
		SubjectID: subjectID,
		Outcome:   outcome,
		Reason:    reason,
		Origin:    origin,
		CreatedAt: time.Now(),
	}
	if err := repo.Append(ctx, event); err != nil {
		s.logger.Error(ctx, "audit append failed",
			"action", string(action), "subject_id", subjectID, "outcome", string(outcome), "error", err.Error())
	}
}
