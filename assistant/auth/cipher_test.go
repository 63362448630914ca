package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherRoundTrip(t *testing.T) {
	c := NewCipher("unit-secret")

	blob, err := c.Encrypt("bearer-token-123")
	require.NoError(t, err)

	parts := strings.SplitN(blob, ":", 2)
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], 32) // 16 IV bytes hex encoded

	plain, err := c.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "bearer-token-123", plain)
}

func TestCipherFreshIVPerCall(t *testing.T) {
	c := NewCipher("unit-secret")

	first, err := c.Encrypt("same-token")
	require.NoError(t, err)
	second, err := c.Encrypt("same-token")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestCipherKeyMismatch(t *testing.T) {
	blob, err := NewCipher("secret-a").Encrypt("token")
	require.NoError(t, err)

	_, err = NewCipher("secret-b").Decrypt(blob)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestCipherRejectsMalformedBlobs(t *testing.T) {
	c := NewCipher("unit-secret")

	for _, blob := range []string{
		"",
		"no-separator",
		"zz:zz",
		"00ff:",
		":00ff",
		"00ff00ff00ff00ff00ff00ff00ff00ff", // missing separator entirely
	} {
		_, err := c.Decrypt(blob)
		assert.ErrorIs(t, err, ErrDecryption, "blob %q", blob)
	}
}

func TestCipherDetectsTampering(t *testing.T) {
	c := NewCipher("unit-secret")

	blob, err := c.Encrypt("bearer-token-123")
	require.NoError(t, err)

	// Flip one ciphertext byte.
	raw := []byte(blob)
	last := len(raw) - 1
	if raw[last] == 'a' {
		raw[last] = 'b'
	} else {
		raw[last] = 'a'
	}
	_, err = c.Decrypt(string(raw))
	assert.ErrorIs(t, err, ErrDecryption)
}
