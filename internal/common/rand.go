package common

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

// MakeURLSafeToken generates a random URL-safe token from size bytes of
// entropy. The result uses the unpadded base64 URL alphabet, so it is safe to
// embed in links. size must provide at least 128 bits (16 bytes) for share
// tokens; callers pass 32 for a 256-bit token.
func MakeURLSafeToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// MakeRandDigits generates a string of n random decimal digits using the
// crypto random source. Used for share PINs; the digits are independent of
// the share token.
func MakeRandDigits(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("reading random digit: %w", err)
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits), nil
}

// WipeByteArray overwrites the contents of the provided byte slice with
// zeros. Useful for removing secrets from memory after use. A nil slice is
// a no-op.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
