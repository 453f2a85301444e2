package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/medkeep/phivault/internal/common"
	"github.com/medkeep/phivault/internal/dbx"
	"github.com/medkeep/phivault/internal/logging"
	"github.com/medkeep/phivault/internal/server/models"
	"github.com/medkeep/phivault/internal/server/repositories/capabilities"
	"github.com/medkeep/phivault/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedeem_SingleUseWithPIN(t *testing.T) {
	env := newTestEnv(t)
	record := env.createPatient(t)
	issued := env.issue(t, record.ID, func(r *IssueRequest) { r.PINRequired = true })

	ctx := context.Background()
	view, err := env.redeems.Redeem(ctx, Redemption{Token: issued.Token, PIN: issued.PIN, Origin: "web"})
	require.NoError(t, err)

	assert.Equal(t, record.ID, view.RecordID)
	assert.Equal(t, 0, view.RemainingUses)
	assert.Equal(t, "asthma since childhood", view.Fields["medical_history"])
	assert.Equal(t, "Ann", view.Fields["first_name"])

	stored, err := env.rm.Capabilities(nil).Get(ctx, "clinic-1", issued.Capability.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CapabilityUsed, stored.State)
	assert.Equal(t, 1, stored.RedemptionCount)
	require.NotNil(t, stored.LastRedeemedAt)
	assert.Equal(t, "web", stored.LastRedeemedOrigin)

	// The capability is spent; presenting the same token again fails with
	// the generic invalid error.
	_, err = env.redeems.Redeem(ctx, Redemption{Token: issued.Token, PIN: issued.PIN})
	require.ErrorIs(t, err, common.ErrInvalid)
}

func TestRedeem_UnknownToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.redeems.Redeem(context.Background(), Redemption{Token: "never-issued"})
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestRedeem_WrongPINConsumesNothing(t *testing.T) {
	env := newTestEnv(t)
	record := env.createPatient(t)
	issued := env.issue(t, record.ID, func(r *IssueRequest) { r.PINRequired = true })

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := env.redeems.Redeem(ctx, Redemption{Token: issued.Token, PIN: "000000"})
		require.ErrorIs(t, err, common.ErrUnauthorized)
	}

	stored, err := env.rm.Capabilities(nil).Get(ctx, "clinic-1", issued.Capability.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CapabilityActive, stored.State)
	assert.Equal(t, 0, stored.RedemptionCount)
	assert.Equal(t, 3, stored.PINFailures)

	// The correct PIN still works and resets the failure counter.
	_, err = env.redeems.Redeem(ctx, Redemption{Token: issued.Token, PIN: issued.PIN})
	require.NoError(t, err)
	stored, err = env.rm.Capabilities(nil).Get(ctx, "clinic-1", issued.Capability.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.PINFailures)
}

func TestRedeem_MissingPINIsUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	record := env.createPatient(t)
	issued := env.issue(t, record.ID, func(r *IssueRequest) { r.PINRequired = true })

	_, err := env.redeems.Redeem(context.Background(), Redemption{Token: issued.Token})
	require.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestRedeem_LazyExpiry(t *testing.T) {
	env := newTestEnv(t)
	record := env.createPatient(t)
	issued := env.issue(t, record.ID, func(r *IssueRequest) { r.ExpiresIn = time.Hour })

	// Move the redemption clock past the expiry instant.
	env.redeems.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	ctx := context.Background()
	_, err := env.redeems.Redeem(ctx, Redemption{Token: issued.Token})
	require.ErrorIs(t, err, common.ErrInvalid)

	stored, err := env.rm.Capabilities(nil).Get(ctx, "clinic-1", issued.Capability.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CapabilityExpired, stored.State)

	// Observing expiry twice is harmless and yields the same answer.
	_, err = env.redeems.Redeem(ctx, Redemption{Token: issued.Token})
	require.ErrorIs(t, err, common.ErrInvalid)
	stored, err = env.rm.Capabilities(nil).Get(ctx, "clinic-1", issued.Capability.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CapabilityExpired, stored.State)
}

type failingExpiryCapsRepo struct {
	capabilities.Repository
	markExpiredErr error
}

func (f *failingExpiryCapsRepo) MarkExpired(ctx context.Context, id string) error {
	return f.markExpiredErr
}

type fakeCapsRepoManager struct {
	*repomanager.InMemoryRepositoryManager
	caps capabilities.Repository
}

func (m *fakeCapsRepoManager) Capabilities(_ dbx.DBTX) capabilities.Repository { return m.caps }

func TestRedeem_ExpiryFlipFailureIsAudited(t *testing.T) {
	env := newTestEnv(t)
	record := env.createPatient(t)
	issued := env.issue(t, record.ID, nil)

	rm := &fakeCapsRepoManager{
		InMemoryRepositoryManager: env.rm,
		caps: &failingExpiryCapsRepo{
			Repository:     env.rm.Capabilities(nil),
			markExpiredErr: errors.New("db down"),
		},
	}
	logger := logging.NewNopLogger()
	redeems := NewRedeemService(nil, rm, nil, NewAuditService(nil, rm, logger), logger)
	redeems.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err := redeems.Redeem(context.Background(), Redemption{Token: issued.Token})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")

	event := env.lastEvent(t, issued.Capability.ID)
	assert.Equal(t, models.AuditRedeem, event.Action)
	assert.Equal(t, models.AuditFailure, event.Outcome)
	assert.Equal(t, models.AnonymousActor, event.Actor)
}

func TestRedeem_RevokedToken(t *testing.T) {
	env := newTestEnv(t)
	record := env.createPatient(t)
	issued := env.issue(t, record.ID, nil)

	ctx := context.Background()
	require.NoError(t, env.shares.Revoke(ctx, testCaller(), issued.Capability.ID))

	_, err := env.redeems.Redeem(ctx, Redemption{Token: issued.Token})
	require.ErrorIs(t, err, common.ErrInvalid)
}

func TestRedeem_RecipientConstraint(t *testing.T) {
	env := newTestEnv(t)
	record := env.createPatient(t)
	issued := env.issue(t, record.ID, func(r *IssueRequest) { r.Recipient = "ann@example.com" })

	ctx := context.Background()

	// No asserted identity fails closed.
	_, err := env.redeems.Redeem(ctx, Redemption{Token: issued.Token})
	require.ErrorIs(t, err, common.ErrUnauthorized)

	// A different identity fails.
	_, err = env.redeems.Redeem(ctx, Redemption{Token: issued.Token, RecipientIdentity: "mallory@example.com"})
	require.ErrorIs(t, err, common.ErrUnauthorized)

	// The bound identity succeeds.
	_, err = env.redeems.Redeem(ctx, Redemption{Token: issued.Token, RecipientIdentity: "ann@example.com"})
	require.NoError(t, err)
}

func TestRedeem_SectionScopeContainsOnlyItsFields(t *testing.T) {
	env := newTestEnv(t)
	record := env.createPatient(t)
	issued := env.issue(t, record.ID, func(r *IssueRequest) {
		r.Scope = models.Scope{Kind: models.ScopeSection, Fields: []string{"appointments"}}
	})

	view, err := env.redeems.Redeem(context.Background(), Redemption{Token: issued.Token})
	require.NoError(t, err)

	require.Len(t, view.Fields, 2)
	assert.Equal(t, "2026-09-12T10:00:00Z", view.Fields["next_appointment"])
	assert.Equal(t, "follow up on inhaler dosage", view.Fields["appointment_notes"])
	assert.NotContains(t, view.Fields, "medical_history")
	assert.NotContains(t, view.Fields, "first_name")
}

func TestRedeem_CustomScope(t *testing.T) {
	env := newTestEnv(t)
	record := env.createPatient(t)
	issued := env.issue(t, record.ID, func(r *IssueRequest) {
		r.Scope = models.Scope{Kind: models.ScopeCustom, Fields: []string{"allergies", "emergency_phone"}}
	})

	view, err := env.redeems.Redeem(context.Background(), Redemption{Token: issued.Token})
	require.NoError(t, err)

	require.Len(t, view.Fields, 2)
	assert.Equal(t, "penicillin", view.Fields["allergies"])
	assert.Equal(t, "+1-555-0100", view.Fields["emergency_phone"])
}

func TestRedeem_CeilingHoldsUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	record := env.createPatient(t)

	const maxUses = 5
	const attempts = 20

	issued := env.issue(t, record.ID, func(r *IssueRequest) { r.MaxUses = maxUses })

	var successes, invalids atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.redeems.Redeem(context.Background(), Redemption{Token: issued.Token})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, common.ErrInvalid):
				invalids.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(maxUses), successes.Load())
	assert.Equal(t, int64(attempts-maxUses), invalids.Load())

	stored, err := env.rm.Capabilities(nil).Get(context.Background(), "clinic-1", issued.Capability.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CapabilityUsed, stored.State)
	assert.Equal(t, maxUses, stored.RedemptionCount)
}

func TestRedeem_AuditsEveryOutcome(t *testing.T) {
	env := newTestEnv(t)
	record := env.createPatient(t)
	issued := env.issue(t, record.ID, func(r *IssueRequest) { r.PINRequired = true; r.MaxUses = 2 })

	ctx := context.Background()

	_, err := env.redeems.Redeem(ctx, Redemption{Token: issued.Token, PIN: "999999"})
	require.ErrorIs(t, err, common.ErrUnauthorized)
	event := env.lastEvent(t, issued.Capability.ID)
	assert.Equal(t, models.AuditRedeem, event.Action)
	assert.Equal(t, models.AuditFailure, event.Outcome)
	assert.Equal(t, models.AnonymousActor, event.Actor)

	_, err = env.redeems.Redeem(ctx, Redemption{Token: issued.Token, PIN: issued.PIN})
	require.NoError(t, err)
	event = env.lastEvent(t, issued.Capability.ID)
	assert.Equal(t, models.AuditSuccess, event.Outcome)
	assert.Equal(t, models.AnonymousActor, event.Actor)
}
