package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/medkeep/phivault/internal/common"
)

// Codec performs authenticated field encryption with AES-256-GCM. The stored
// form is base64(nonce || ciphertext || tag) as one opaque string, so any
// text-typed column can hold it. A Codec is immutable and safe for
// concurrent use; construct one at process start and pass it by reference.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a Codec from a derived 32-byte key (see DeriveKey).
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrConfiguration, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random 96-bit nonce and returns the
// encoded ciphertext string. The nonce is never reused: every call draws a
// new one from the crypto random source.
func (c *Codec) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	// Seal appends ciphertext+tag to the nonce slice, giving nonce||ct||tag.
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any failure - malformed base64, input shorter
// than nonce+tag, or a GCM tag mismatch - yields common.ErrAuthenticationFailed.
// Partial or unauthenticated plaintext is never returned: tampered PHI must
// surface as an error, not as data.
func (c *Codec) Decrypt(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed encoding", common.ErrAuthenticationFailed)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrAuthenticationFailed)
	}

	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: tag verification failed", common.ErrAuthenticationFailed)
	}
	return plaintext, nil
}
