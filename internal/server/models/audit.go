package models

import "time"

// AuditAction names the operation an audit event records.
type AuditAction string

const (
	AuditIssue         AuditAction = "issue"
	AuditRedeem        AuditAction = "redeem"
	AuditRevoke        AuditAction = "revoke"
	AuditEncryptAccess AuditAction = "encrypt-access"
	AuditDecryptAccess AuditAction = "decrypt-access"
)

// AuditOutcome is the result of the audited operation.
type AuditOutcome string

const (
	AuditSuccess AuditOutcome = "success"
	AuditFailure AuditOutcome = "failure"
)

// AnonymousActor is recorded when an operation is driven by token
// possession alone, with no authenticated caller.
const AnonymousActor = "anonymous-via-token"

// AuditEvent is one immutable fact about a key use, token issuance, or token
// redemption. It carries identifiers and outcomes only; PHI content never
// appears in an event.
type AuditEvent struct {
	ID        string
	Actor     string // tenant/user id, or AnonymousActor
	Action    AuditAction
	SubjectID string // record or capability id
	Outcome   AuditOutcome
	Reason    string // failure reason, empty on success
	Origin    string // caller-supplied origin metadata (IP, channel)
	CreatedAt time.Time
}
