// Package common defines shared constants and sentinel errors used across
// the PHI vault core. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Crypto errors. ErrAuthenticationFailed covers a GCM tag mismatch as
	// well as malformed or truncated ciphertext encodings: decryption is
	// fail-closed and never yields partial plaintext.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Capability lifecycle errors. ErrInvalid is returned whenever a
	// capability in a terminal state is presented; the terminal state itself
	// goes to logs only, never to the redeemer.
	ErrInvalid      = errors.New("invalid or expired")
	ErrUnauthorized = errors.New("unauthorized")

	// Issuance parameter errors (owner-facing, descriptive).
	ErrValidation = errors.New("validation error")

	// Fatal start-up errors (empty application secret, bad iteration count).
	ErrConfiguration = errors.New("configuration error")

	// Generic internal flow control.
	ErrInternal = errors.New("internal error")
)
