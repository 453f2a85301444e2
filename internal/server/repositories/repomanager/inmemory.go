package repomanager

import (
	"context"
	"database/sql"

	"github.com/medkeep/phivault/internal/dbx"
	"github.com/medkeep/phivault/internal/server/repositories/attachments"
	"github.com/medkeep/phivault/internal/server/repositories/audit"
	"github.com/medkeep/phivault/internal/server/repositories/capabilities"
	"github.com/medkeep/phivault/internal/server/repositories/records"
)

// InMemoryRepositoryManager vends shared in-memory repositories. The DBTX
// argument is ignored; all callers see the same state. Used by tests and by
// deployments without Postgres.
type InMemoryRepositoryManager struct {
	records      *records.InMemoryRepository
	capabilities *capabilities.InMemoryRepository
	audit        *audit.InMemoryRepository
	attachments  *attachments.InMemoryRepository
}

// NewInMemoryRepositoryManager constructs a manager with fresh empty repos.
func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{
		records:      records.NewInMemoryRepository(),
		capabilities: capabilities.NewInMemoryRepository(),
		audit:        audit.NewInMemoryRepository(),
		attachments:  attachments.NewInMemoryRepository(),
	}
}

func (m *InMemoryRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return nil
}

func (m *InMemoryRepositoryManager) Records(_ dbx.DBTX) records.Repository {
	return m.records
}

func (m *InMemoryRepositoryManager) Capabilities(_ dbx.DBTX) capabilities.Repository {
	return m.capabilities
}

func (m *InMemoryRepositoryManager) Audit(_ dbx.DBTX) audit.Repository {
	return m.audit
}

func (m *InMemoryRepositoryManager) Attachments(_ dbx.DBTX) attachments.Repository {
	return m.attachments
}

// AuditSink exposes the in-memory audit repository so tests can inspect
// emitted events.
func (m *InMemoryRepositoryManager) AuditSink() *audit.InMemoryRepository {
	return m.audit
}
