// Package repomanager wires repository constructors to a database handle
// and owns schema migrations.
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

// RepositoryManager vends repository implementations bound to a DBTX, so a
// service can run several repos inside one transaction.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Records(db dbx.DBTX) records.Repository
	Capabilities(db dbx.DBTX) capabilities.Repository
	Audit(db dbx.DBTX) audit.Repository
	Attachments(db dbx.DBTX) attachments.Repository
}
