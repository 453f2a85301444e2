package cryptox

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/medkeep/phivault/internal/common"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	key, err := DeriveKey([]byte("test-secret"))
	require.NoError(t, err)
	c, err := NewCodec(key)
	require.NoError(t, err)
	return c
}

func TestCodec_RoundTrip(t *testing.T) {
	c := newTestCodec(t)

	for _, plaintext := range []string{"", "a", "penicillin allergy", "многобайтовый текст"} {
		enc, err := c.Encrypt([]byte(plaintext))
		require.NoError(t, err)

		dec, err := c.Decrypt(enc)
		require.NoError(t, err)
		require.Equal(t, plaintext, string(dec))
	}
}

func TestCodec_NonceFreshness(t *testing.T) {
	c := newTestCodec(t)

	enc1, err := c.Encrypt([]byte("same value"))
	require.NoError(t, err)
	enc2, err := c.Encrypt([]byte("same value"))
	require.NoError(t, err)

	require.NotEqual(t, enc1, enc2, "two encryptions of the same value must differ")

	dec1, err := c.Decrypt(enc1)
	require.NoError(t, err)
	dec2, err := c.Decrypt(enc2)
	require.NoError(t, err)
	require.Equal(t, dec1, dec2)
}

func TestCodec_TamperingFailsClosed(t *testing.T) {
	c := newTestCodec(t)

	enc, err := c.Encrypt([]byte("blood type AB-"))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(enc)
	require.NoError(t, err)

	// Flip one bit at every position: nonce, ciphertext, and tag.
	for i := range raw {
		tampered := make([]byte, len(raw))
		copy(tampered, raw)
		tampered[i] ^= 0x01

		_, err := c.Decrypt(base64.StdEncoding.EncodeToString(tampered))
		require.ErrorIs(t, err, common.ErrAuthenticationFailed, "bit flip at byte %d must fail", i)
	}
}

func TestCodec_WrongKey(t *testing.T) {
	c := newTestCodec(t)

	otherKey, err := DeriveKey([]byte("other-secret"))
	require.NoError(t, err)
	other, err := NewCodec(otherKey)
	require.NoError(t, err)

	enc, err := c.Encrypt([]byte("phi"))
	require.NoError(t, err)

	_, err = other.Decrypt(enc)
	require.ErrorIs(t, err, common.ErrAuthenticationFailed)
}

func TestCodec_MalformedInput(t *testing.T) {
	c := newTestCodec(t)

	for _, in := range []string{"not base64!!!", "", base64.StdEncoding.EncodeToString([]byte("short"))} {
		_, err := c.Decrypt(in)
		require.ErrorIs(t, err, common.ErrAuthenticationFailed, "input %q", in)
	}
}

func TestNewCodec_BadKeyLength(t *testing.T) {
	_, err := NewCodec([]byte("short"))
	require.Error(t, err)
	require.True(t, errors.Is(err, common.ErrConfiguration))
}
