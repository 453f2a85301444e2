package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/medkeep/phivault/internal/common"
	"github.com/medkeep/phivault/internal/dbx"
	"github.com/medkeep/phivault/internal/logging"
	"github.com/medkeep/phivault/internal/server/auth"
	"github.com/medkeep/phivault/internal/server/models"
	"github.com/medkeep/phivault/internal/server/phi"
	"github.com/medkeep/phivault/internal/server/repositories/repomanager"
)

// RecordService is the encrypt-on-write / decrypt-on-read surface for
// clinical records. Sensitive fields cross the repository boundary only as
// ciphertext.
type RecordService struct {
	db     *sql.DB
	rm     repomanager.RepositoryManager
	mapper *phi.Mapper
	audit  *AuditService
	logger logging.Logger
}

// NewRecordService constructs a RecordService. The mapper is injected with
// its codec already built; this service never touches key material.
func NewRecordService(db *sql.DB, rm repomanager.RepositoryManager, mapper *phi.Mapper, audit *AuditService, logger logging.Logger) *RecordService {
	return &RecordService{db: db, rm: rm, mapper: mapper, audit: audit, logger: logger}
}

// withTx runs fn inside a transaction when a database is wired, and
// directly against the repo manager otherwise (in-memory deployments).
func (s *RecordService) withTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	if s.db == nil {
		return fn(ctx, nil)
	}
	return dbx.WithTx(ctx, s.db, nil, fn)
}

// Create encrypts the sensitive fields of a new record and persists it.
func (s *RecordService) Create(ctx context.Context, caller auth.Caller, rt phi.RecordType, fields map[string]any) (*models.Record, error) {
	enc, err := s.mapper.EncryptRecord(fields, rt)
	if err != nil {
		s.audit.Emit(ctx, caller.UserID, models.AuditEncryptAccess, "", models.AuditFailure, err.Error(), "")
		return nil, err
	}

	record := &models.Record{
		ID:         uuid.NewString(),
		TenantID:   caller.TenantID,
		RecordType: rt,
		Fields:     enc,
	}
	if err := s.rm.Records(s.db).Create(ctx, record); err != nil {
		return nil, fmt.Errorf("error creating record: %w", err)
	}

	s.audit.Emit(ctx, caller.UserID, models.AuditEncryptAccess, record.ID, models.AuditSuccess, "", "")
	return record, nil
}

// Get returns a tenant's record with sensitive fields decrypted. A failed
// decryption is surfaced, never papered over: the caller must not be handed
// ciphertext as if it were the value.
func (s *RecordService) Get(ctx context.Context, caller auth.Caller, id string) (*models.Record, error) {
	record, err := s.rm.Records(s.db).Get(ctx, caller.TenantID, id)
	if err != nil {
		return nil, err
	}

	dec, err := s.mapper.DecryptRecord(record.Fields, record.RecordType)
	if err != nil {
		s.audit.Emit(ctx, caller.UserID, models.AuditDecryptAccess, id, models.AuditFailure, err.Error(), "")
		return nil, err
	}
	record.Fields = dec

	s.audit.Emit(ctx, caller.UserID, models.AuditDecryptAccess, id, models.AuditSuccess, "", "")
	return record, nil
}

// Update re-encrypts the record's sensitive fields and replaces the stored
// field map.
func (s *RecordService) Update(ctx context.Context, caller auth.Caller, id string, fields map[string]any) (*models.Record, error) {
	repo := s.rm.Records(s.db)

	existing, err := repo.Get(ctx, caller.TenantID, id)
	if err != nil {
		return nil, err
	}

	enc, err := s.mapper.EncryptRecord(fields, existing.RecordType)
	if err != nil {
		s.audit.Emit(ctx, caller.UserID, models.AuditEncryptAccess, id, models.AuditFailure, err.Error(), "")
		return nil, err
	}

	existing.Fields = enc
	if err := repo.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("error updating record: %w", err)
	}

	s.audit.Emit(ctx, caller.UserID, models.AuditEncryptAccess, id, models.AuditSuccess, "", "")
	return existing, nil
}

// Delete removes a record and, in the same transaction, revokes every
// active capability referencing it and drops its attachment rows. A record
// must never disappear while live capabilities still grant access to it.
func (s *RecordService) Delete(ctx context.Context, caller auth.Caller, id string) error {
	err := s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		// Ownership gate before any cascade step: a foreign tenant must not
		// be able to revoke another tenant's grants via a failed delete.
		if _, err := s.rm.Records(tx).Get(ctx, caller.TenantID, id); err != nil {
			return err
		}
		if err := s.rm.Capabilities(tx).RevokeAllForRecord(ctx, id); err != nil {
			return err
		}
		if err := s.rm.Attachments(tx).DeleteByRecord(ctx, id); err != nil {
			return err
		}
		return s.rm.Records(tx).Delete(ctx, caller.TenantID, id)
	})
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrNotFound
		}
		return err
	}

	s.logger.Info(ctx, "record deleted, capabilities revoked", "record_id", id, "tenant_id", caller.TenantID)
	return nil
}

// ImportResult reports one failed record of a bulk import.
type ImportResult struct {
	Created  []*models.Record
	Failures []phi.BatchFailure
}

// Import encrypts and persists a batch of records of one type. Bad records
// do not abort the batch; they come back in Failures with their input
// positions while the rest are created.
func (s *RecordService) Import(ctx context.Context, caller auth.Caller, rt phi.RecordType, batch []map[string]any) (*ImportResult, error) {
	encrypted, failures := s.mapper.EncryptRecords(batch, rt)

	result := &ImportResult{Failures: failures}
	repo := s.rm.Records(s.db)

	for _, enc := range encrypted {
		if enc == nil {
			continue
		}
		record := &models.Record{
			ID:         uuid.NewString(),
			TenantID:   caller.TenantID,
			RecordType: rt,
			Fields:     enc,
		}
		if err := repo.Create(ctx, record); err != nil {
			return nil, fmt.Errorf("error creating record: %w", err)
		}
		result.Created = append(result.Created, record)
	}

	s.audit.Emit(ctx, caller.UserID, models.AuditEncryptAccess, "", models.AuditSuccess,
		fmt.Sprintf("bulk import: %d created, %d failed", len(result.Created), len(result.Failures)), "")
	return result, nil
}
