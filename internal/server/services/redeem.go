package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/medkeep/phivault/internal/common"
	"github.com/medkeep/phivault/internal/logging"
	"github.com/medkeep/phivault/internal/server/models"
	"github.com/medkeep/phivault/internal/server/phi"
	"github.com/medkeep/phivault/internal/server/repositories/repomanager"
)

// Redemption carries an anonymous redeemer's presentation: the token, the
// PIN when the capability demands one, the identity the redeemer asserts
// (verified upstream by the transport when a recipient constraint exists),
// and origin metadata for the audit trail.
type Redemption struct {
	Token             string
	PIN               string
	RecipientIdentity string
	Origin            string
}

// ScopedView is the decrypted, scope-limited view a successful redemption
// returns. Fields outside the capability's scope are absent, not blanked.
type ScopedView struct {
	RecordID      string
	RecordType    phi.RecordType
	Fields        map[string]any
	RemainingUses int
}

// RedeemService validates presented share tokens and returns scoped
// plaintext views. It owns the capability state machine:
//
//	active -> used | expired | revoked (all terminal)
//
// Expiry is evaluated lazily, at the moment a redemption observes it; no
// background job participates in correctness.
type RedeemService struct {
	db     *sql.DB
	rm     repomanager.RepositoryManager
	mapper *phi.Mapper
	audit  *AuditService
	logger logging.Logger

	now func() time.Time
}

// NewRedeemService constructs a RedeemService.
func NewRedeemService(db *sql.DB, rm repomanager.RepositoryManager, mapper *phi.Mapper, audit *AuditService, logger logging.Logger) *RedeemService {
	return &RedeemService{db: db, rm: rm, mapper: mapper, audit: audit, logger: logger, now: time.Now}
}

// Redeem runs the redemption checks in their fixed order. Client-facing
// failures are deliberately coarse: NotFound and terminal states both
// surface as generic errors so the endpoint cannot be used as an oracle for
// token enumeration or lifecycle state. The precise reason goes to the
// audit trail and logs only.
func (s *RedeemService) Redeem(ctx context.Context, req Redemption) (*ScopedView, error) {
	repo := s.rm.Capabilities(s.db)

	// 1. Exact-match lookup. A token that never existed and one that was
	// hard-deleted for retention produce the same answer.
	cap, err := repo.FindByToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.audit.Emit(ctx, models.AnonymousActor, models.AuditRedeem, "", models.AuditFailure, "token not found", req.Origin)
			return nil, common.ErrNotFound
		}
		return nil, err
	}

	// 2. Terminal states stay terminal. The concrete state is diagnostic
	// detail for logs, never for the client.
	if cap.State != models.CapabilityActive {
		s.logger.Debug(ctx, "redemption of terminal capability", "capability_id", cap.ID, "state", string(cap.State))
		s.audit.Emit(ctx, models.AnonymousActor, models.AuditRedeem, cap.ID, models.AuditFailure,
			fmt.Sprintf("capability in state %s", cap.State), req.Origin)
		return nil, common.ErrInvalid
	}

	// 3. Lazy expiry: correct the state at the moment it is observed.
	if s.now().After(cap.ExpiresAt) {
		if err := repo.MarkExpired(ctx, cap.ID); err != nil {
			s.audit.Emit(ctx, models.AnonymousActor, models.AuditRedeem, cap.ID, models.AuditFailure, err.Error(), req.Origin)
			return nil, err
		}
		s.audit.Emit(ctx, models.AnonymousActor, models.AuditRedeem, cap.ID, models.AuditFailure, "capability expired", req.Origin)
		return nil, common.ErrInvalid
	}

	// 4. PIN check. A wrong PIN consumes no redemption slot but bumps the
	// consecutive-failure counter the transport rate-limits on.
	if cap.PINRequired() && !pinMatches(cap.PINHash, req.PIN) {
		if err := repo.IncrementPINFailures(ctx, cap.ID); err != nil {
			s.audit.Emit(ctx, models.AnonymousActor, models.AuditRedeem, cap.ID, models.AuditFailure, err.Error(), req.Origin)
			return nil, err
		}
		s.audit.Emit(ctx, models.AnonymousActor, models.AuditRedeem, cap.ID, models.AuditFailure, "pin mismatch", req.Origin)
		return nil, common.ErrUnauthorized
	}

	// 5. Recipient constraint. An unasserted identity never satisfies a
	// constraint: fail closed rather than silently ignore it.
	if cap.Recipient != "" && req.RecipientIdentity != cap.Recipient {
		s.audit.Emit(ctx, models.AnonymousActor, models.AuditRedeem, cap.ID, models.AuditFailure, "recipient mismatch", req.Origin)
		return nil, common.ErrUnauthorized
	}

	// 6. Atomic increment-and-possibly-transition. This is the only step
	// needing real concurrency control; the repository does it in a single
	// conditional update, so the last slot can never be double-spent.
	count, _, err := repo.Redeem(ctx, cap.ID, s.now(), req.Origin)
	if err != nil {
		if errors.Is(err, common.ErrInvalid) {
			s.audit.Emit(ctx, models.AnonymousActor, models.AuditRedeem, cap.ID, models.AuditFailure, "usage ceiling reached", req.Origin)
			return nil, common.ErrInvalid
		}
		s.audit.Emit(ctx, models.AnonymousActor, models.AuditRedeem, cap.ID, models.AuditFailure, err.Error(), req.Origin)
		return nil, err
	}

	// 7. Decrypt and project to the capability's scope.
	view, err := s.buildView(ctx, cap, count)
	if err != nil {
		s.audit.Emit(ctx, models.AnonymousActor, models.AuditRedeem, cap.ID, models.AuditFailure, err.Error(), req.Origin)
		return nil, err
	}

	s.audit.Emit(ctx, models.AnonymousActor, models.AuditRedeem, cap.ID, models.AuditSuccess, "", req.Origin)
	return view, nil
}

func (s *RedeemService) buildView(ctx context.Context, cap *models.ShareCapability, count int) (*ScopedView, error) {
	record, err := s.rm.Records(s.db).GetByID(ctx, cap.RecordID)
	if err != nil {
		return nil, err
	}

	def, ok := phi.Lookup(record.RecordType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown record type %q", common.ErrValidation, record.RecordType)
	}
	scopeFields, err := resolveScopeFields(def, cap.Scope)
	if err != nil {
		return nil, err
	}

	dec, err := s.mapper.DecryptRecord(record.Fields, record.RecordType)
	if err != nil {
		return nil, err
	}

	return &ScopedView{
		RecordID:      record.ID,
		RecordType:    record.RecordType,
		Fields:        phi.Project(dec, scopeFields),
		RemainingUses: cap.MaxUses - count,
	}, nil
}

// pinMatches compares in constant time; the stored side is a SHA-256 digest.
func pinMatches(pinHash []byte, candidate string) bool {
	h := sha256.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(pinHash, h[:]) == 1
}
