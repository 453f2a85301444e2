package services

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/medkeep/phivault/internal/common"
	"github.com/medkeep/phivault/internal/logging"
	"github.com/medkeep/phivault/internal/server/auth"
	"github.com/medkeep/phivault/internal/server/config"
	"github.com/medkeep/phivault/internal/server/models"
	"github.com/medkeep/phivault/internal/server/phi"
	"github.com/medkeep/phivault/internal/server/repositories/repomanager"
)

const (
	// shareTokenBytes gives 256 bits of token entropy, double the required
	// minimum of 128.
	shareTokenBytes = 32

	// pinDigits is the fixed share PIN length.
	pinDigits = 6

	// tokenIssueAttempts bounds the collision-retry loop. A collision on a
	// 256-bit token is astronomically unlikely, but it is checked against
	// the token index deterministically rather than assumed away.
	tokenIssueAttempts = 3
)

// makeRandDigits is a test seam for common.MakeRandDigits.
var makeRandDigits = common.MakeRandDigits

// IssueRequest carries the owner's issuance parameters.
type IssueRequest struct {
	RecordID    string
	Scope       models.Scope
	ExpiresIn   time.Duration
	MaxUses     int
	PINRequired bool
	// Recipient, when set, is the identity the redeemer must assert
	// (typically an email). Empty means possession alone suffices.
	Recipient string

	// Origin is transport-supplied metadata for the audit trail.
	Origin string
}

// IssuedShare is returned to the issuing owner exactly once. The token and
// PIN are not retrievable afterwards: the PIN is persisted only as a digest,
// and losing either means revoking and issuing anew.
type IssuedShare struct {
	Capability *models.ShareCapability
	Token      string
	PIN        string // empty unless PINRequired
}

// ShareService issues and revokes share capabilities (the owner-facing half
// of the sharing lifecycle; redemption lives in RedeemService).
type ShareService struct {
	db     *sql.DB
	rm     repomanager.RepositoryManager
	audit  *AuditService
	config *config.Config
	logger logging.Logger

	now func() time.Time
}

// NewShareService constructs a ShareService.
func NewShareService(db *sql.DB, rm repomanager.RepositoryManager, audit *AuditService, cfg *config.Config, logger logging.Logger) *ShareService {
	return &ShareService{db: db, rm: rm, audit: audit, config: cfg, logger: logger, now: time.Now}
}

// Issue validates the request against the subject record, mints the token
// (and PIN when asked), persists the capability in active state, and emits
// an issue audit event. Validation failures are owner-facing and therefore
// descriptive.
func (s *ShareService) Issue(ctx context.Context, caller auth.Caller, req IssueRequest) (*IssuedShare, error) {
	if req.ExpiresIn <= 0 {
		err := fmt.Errorf("%w: expiry must be in the future", common.ErrValidation)
		s.audit.Emit(ctx, caller.UserID, models.AuditIssue, req.RecordID, models.AuditFailure, err.Error(), req.Origin)
		return nil, err
	}
	if req.ExpiresIn > s.config.MaxShareValidity {
		err := fmt.Errorf("%w: expiry exceeds maximum share validity of %s", common.ErrValidation, s.config.MaxShareValidity)
		s.audit.Emit(ctx, caller.UserID, models.AuditIssue, req.RecordID, models.AuditFailure, err.Error(), req.Origin)
		return nil, err
	}
	if req.MaxUses < 1 {
		err := fmt.Errorf("%w: max uses must be at least 1", common.ErrValidation)
		s.audit.Emit(ctx, caller.UserID, models.AuditIssue, req.RecordID, models.AuditFailure, err.Error(), req.Origin)
		return nil, err
	}

	// The scope must resolve against the record's actual type, so an issue
	// request naming unknown fields fails here rather than minting an
	// unredeemable capability.
	record, err := s.rm.Records(s.db).Get(ctx, caller.TenantID, req.RecordID)
	if err != nil {
		s.audit.Emit(ctx, caller.UserID, models.AuditIssue, req.RecordID, models.AuditFailure, err.Error(), req.Origin)
		return nil, err
	}
	def, ok := phi.Lookup(record.RecordType)
	if !ok {
		err := fmt.Errorf("%w: unknown record type %q", common.ErrValidation, record.RecordType)
		s.audit.Emit(ctx, caller.UserID, models.AuditIssue, req.RecordID, models.AuditFailure, err.Error(), req.Origin)
		return nil, err
	}
	if _, err := resolveScopeFields(def, req.Scope); err != nil {
		s.audit.Emit(ctx, caller.UserID, models.AuditIssue, req.RecordID, models.AuditFailure, err.Error(), req.Origin)
		return nil, err
	}

	token, err := s.mintToken(ctx)
	if err != nil {
		s.audit.Emit(ctx, caller.UserID, models.AuditIssue, req.RecordID, models.AuditFailure, err.Error(), req.Origin)
		return nil, err
	}

	var pin string
	var pinHash []byte
	if req.PINRequired {
		pin, err = makeRandDigits(pinDigits)
		if err != nil {
			err = fmt.Errorf("generating pin: %w", err)
			s.audit.Emit(ctx, caller.UserID, models.AuditIssue, req.RecordID, models.AuditFailure, err.Error(), req.Origin)
			return nil, err
		}
		h := sha256.Sum256([]byte(pin))
		pinHash = h[:]
	}

	now := s.now()
	cap := &models.ShareCapability{
		ID:        uuid.NewString(),
		TenantID:  caller.TenantID,
		RecordID:  req.RecordID,
		Token:     token,
		PINHash:   pinHash,
		Scope:     req.Scope,
		Recipient: req.Recipient,
		CreatedAt: now,
		ExpiresAt: now.Add(req.ExpiresIn),
		MaxUses:   req.MaxUses,
		State:     models.CapabilityActive,
	}

	if err := s.rm.Capabilities(s.db).Create(ctx, cap); err != nil {
		s.audit.Emit(ctx, caller.UserID, models.AuditIssue, req.RecordID, models.AuditFailure, err.Error(), req.Origin)
		return nil, fmt.Errorf("error creating capability: %w", err)
	}

	s.audit.Emit(ctx, caller.UserID, models.AuditIssue, cap.ID, models.AuditSuccess, "", req.Origin)
	s.logger.Info(ctx, "capability issued",
		"capability_id", cap.ID, "record_id", req.RecordID, "max_uses", req.MaxUses,
		"expires_at", cap.ExpiresAt, "pin_required", req.PINRequired)

	return &IssuedShare{Capability: cap, Token: token, PIN: pin}, nil
}

// mintToken generates a fresh token and verifies it against the existing
// token index before accepting it.
func (s *ShareService) mintToken(ctx context.Context) (string, error) {
	repo := s.rm.Capabilities(s.db)
	for i := 0; i < tokenIssueAttempts; i++ {
		token, err := common.MakeURLSafeToken(shareTokenBytes)
		if err != nil {
			return "", fmt.Errorf("generating token: %w", err)
		}
		taken, err := repo.TokenExists(ctx, token)
		if err != nil {
			return "", err
		}
		if !taken {
			return token, nil
		}
	}
	return "", fmt.Errorf("%w: could not mint a unique token", common.ErrInternal)
}

// Revoke flips an active capability to revoked. Only the owning tenant may
// revoke. Revoking a capability already in a terminal state is a no-op
// success, so error responses never reveal lifecycle state.
func (s *ShareService) Revoke(ctx context.Context, caller auth.Caller, capabilityID string) error {
	repo := s.rm.Capabilities(s.db)

	// Tenant scoping happens in the lookup: a foreign capability is
	// indistinguishable from a missing one.
	if _, err := repo.Get(ctx, caller.TenantID, capabilityID); err != nil {
		s.audit.Emit(ctx, caller.UserID, models.AuditRevoke, capabilityID, models.AuditFailure, err.Error(), "")
		return err
	}

	if err := repo.Revoke(ctx, capabilityID); err != nil {
		s.audit.Emit(ctx, caller.UserID, models.AuditRevoke, capabilityID, models.AuditFailure, err.Error(), "")
		return fmt.Errorf("error revoking capability: %w", err)
	}

	s.audit.Emit(ctx, caller.UserID, models.AuditRevoke, capabilityID, models.AuditSuccess, "", "")
	return nil
}

// ListForRecord returns a tenant's capabilities for one record so owners
// can review and revoke them. The token and PIN hash are stripped: both are
// handed out exactly once, at issue time.
func (s *ShareService) ListForRecord(ctx context.Context, caller auth.Caller, recordID string) ([]*models.ShareCapability, error) {
	caps, err := s.rm.Capabilities(s.db).ListByRecord(ctx, caller.TenantID, recordID)
	if err != nil {
		return nil, err
	}
	for _, c := range caps {
		c.Token = ""
		c.PINHash = nil
	}
	return caps, nil
}
