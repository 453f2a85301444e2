package services

import (
	"context"
	"testing"
	"time"

	"github.com/medkeep/phivault/internal/cryptox"
	"github.com/medkeep/phivault/internal/logging"
	"github.com/medkeep/phivault/internal/server/auth"
	"github.com/medkeep/phivault/internal/server/config"
	"github.com/medkeep/phivault/internal/server/models"
	"github.com/medkeep/phivault/internal/server/phi"
	"github.com/medkeep/phivault/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/require"
)

// testEnv wires the full service graph over the in-memory repositories with
// a real codec, so tests exercise the same encrypt/decrypt path production
// does.
type testEnv struct {
	rm      *repomanager.InMemoryRepositoryManager
	records *RecordService
	shares  *ShareService
	redeems *RedeemService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	key, err := cryptox.DeriveKey([]byte("test-app-secret"))
	require.NoError(t, err)
	codec, err := cryptox.NewCodec(key)
	require.NoError(t, err)
	mapper := phi.NewMapper(codec)

	cfg := &config.Config{}
	cfg.LoadDefaults()

	rm := repomanager.NewInMemoryRepositoryManager()
	logger := logging.NewNopLogger()
	auditSvc := NewAuditService(nil, rm, logger)

	return &testEnv{
		rm:      rm,
		records: NewRecordService(nil, rm, mapper, auditSvc, logger),
		shares:  NewShareService(nil, rm, auditSvc, cfg, logger),
		redeems: NewRedeemService(nil, rm, mapper, auditSvc, logger),
	}
}

func testCaller() auth.Caller {
	return auth.Caller{TenantID: "clinic-1", UserID: "dr-lee", Role: "staff"}
}

func patientFields() map[string]any {
	return map[string]any{
		"first_name":        "Ann",
		"last_name":         "Reyes",
		"email":             "ann@example.com",
		"next_appointment":  "2026-09-12T10:00:00Z",
		"medical_history":   "asthma since childhood",
		"allergies":         "penicillin",
		"emergency_contact": "Luis Reyes",
		"emergency_phone":   "+1-555-0100",
		"address":           "12 Elm St",
		"appointment_notes": "follow up on inhaler dosage",
		"prescriptions":     "albuterol 90mcg",
	}
}

func (e *testEnv) createPatient(t *testing.T) *models.Record {
	t.Helper()
	record, err := e.records.Create(context.Background(), testCaller(), phi.RecordTypePatientProfile, patientFields())
	require.NoError(t, err)
	return record
}

func (e *testEnv) issue(t *testing.T, recordID string, mod func(*IssueRequest)) *IssuedShare {
	t.Helper()
	req := IssueRequest{
		RecordID:  recordID,
		Scope:     models.Scope{Kind: models.ScopeFull},
		ExpiresIn: time.Hour,
		MaxUses:   1,
	}
	if mod != nil {
		mod(&req)
	}
	issued, err := e.shares.Issue(context.Background(), testCaller(), req)
	require.NoError(t, err)
	return issued
}

// lastEvent returns the most recent audit event for a subject.
func (e *testEnv) lastEvent(t *testing.T, subjectID string) *models.AuditEvent {
	t.Helper()
	events, err := e.rm.AuditSink().ListBySubject(context.Background(), subjectID, 1)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	return events[0]
}
