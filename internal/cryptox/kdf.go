// Package cryptox implements the vault's cryptographic core: PBKDF2 key
// derivation from the application secret and an AES-256-GCM codec producing
// opaque, self-describing ciphertext strings for column storage.
package cryptox

import (
	"crypto/sha256"
	"fmt"

	"github.com/medkeep/phivault/internal/common"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the derived AES-256 key length in bytes.
	KeySize = 32

	// Iterations is the fixed PBKDF2 iteration count. Changing it changes
	// every derived key, so it is a constant, not configuration.
	Iterations = 100_000
)

// keySalt is the fixed application-wide derivation salt. The secret itself
// is the only confidential input; the salt only separates this deployment's
// key space from other uses of PBKDF2.
var keySalt = []byte("phivault.field-encryption.v1")

// DeriveKey derives the 32-byte field-encryption key from the application
// secret via PBKDF2-SHA256. Deterministic: the same secret always yields the
// same key. An empty secret is a deployment mistake and fails with
// common.ErrConfiguration; callers derive once at process start and treat
// the error as fatal.
func DeriveKey(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty application secret", common.ErrConfiguration)
	}
	return pbkdf2.Key(secret, keySalt, Iterations, KeySize, sha256.New), nil
}
