// Package models holds the server-side data structures persisted by the
// repositories: clinical records, share capabilities, audit events, and
// document attachments.
package models

import (
	"time"

	"github.com/medkeep/phivault/internal/server/phi"
)

// Record is one clinical record row. Fields holds the record's field map;
// when loaded from or headed to storage, the sensitive fields contain opaque
// ciphertext strings produced by the field mapper.
type Record struct {
	ID         string
	TenantID   string
	RecordType phi.RecordType
	Fields     map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
