package models

import "time"

// CapabilityState is the lifecycle state of a share capability.
// Active is the only non-terminal state; Used, Expired, and Revoked are
// terminal and no transition ever leaves them.
type CapabilityState string

const (
	CapabilityActive  CapabilityState = "active"
	CapabilityUsed    CapabilityState = "used"
	CapabilityExpired CapabilityState = "expired"
	CapabilityRevoked CapabilityState = "revoked"
)

// Terminal reports whether the state admits no further transitions.
func (s CapabilityState) Terminal() bool {
	return s == CapabilityUsed || s == CapabilityExpired || s == CapabilityRevoked
}

// ScopeKind selects how a capability's field scope is resolved against the
// subject record's type definition.
type ScopeKind string

const (
	// ScopeFull grants every declared field of the record.
	ScopeFull ScopeKind = "full_record"
	// ScopeSection grants the fields of one named section.
	ScopeSection ScopeKind = "section"
	// ScopeCustom grants an explicit field list fixed at issue time.
	ScopeCustom ScopeKind = "custom"
)

// Scope is the field scope of a capability. Fields holds the section name
// for ScopeSection and the explicit field list for ScopeCustom; it is empty
// for ScopeFull.
type Scope struct {
	Kind   ScopeKind
	Fields []string
}

// ShareCapability is one grant of temporary, possession-based access to a
// record. The token is the credential; the PIN, when required, is stored
// only as a SHA-256 digest. Owned by the issuing tenant and referenced by -
// never owning - the record it exposes.
type ShareCapability struct {
	ID       string
	TenantID string
	RecordID string

	Token   string
	PINHash []byte // nil when no PIN is required

	Scope     Scope
	Recipient string // optional identity the redeemer must assert

	CreatedAt time.Time
	ExpiresAt time.Time

	MaxUses         int
	RedemptionCount int
	State           CapabilityState

	// PINFailures counts consecutive wrong-PIN presentations; exposed so the
	// transport layer can rate-limit. Reset on successful redemption.
	PINFailures int

	LastRedeemedAt     *time.Time
	LastRedeemedOrigin string
}

// PINRequired reports whether a PIN must accompany redemption.
func (c *ShareCapability) PINRequired() bool {
	return len(c.PINHash) > 0
}
