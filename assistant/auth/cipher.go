// Package auth owns the encrypted credential lifecycle bound to a chat
// session: sealing bearer tokens at rest, expiry checks, and the forced
// logout path when a stored credential can no longer be decrypted.
package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// ivSize is the nonce length pinned by the credential wire format.
const ivSize = 16

// Cipher seals and opens bearer tokens with AES-256-GCM. The key is derived
// once from a long-lived secret via SHA-256. Blobs are encoded as
// "<ivHex>:<cipherHex>" with a fresh random IV per encryption, so two seals
// of the same token never produce the same blob.
type Cipher struct {
	key [sha256.Size]byte
}

// NewCipher derives the symmetric key from the configured secret.
func NewCipher(secret string) *Cipher {
	return &Cipher{key: sha256.Sum256([]byte(secret))}
}

func (c *Cipher) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, fmt.Errorf("auth: create cipher: %w", err)
	}
	return cipher.NewGCMWithNonceSize(block, ivSize)
}

// Encrypt seals the token and returns the encoded blob.
func (c *Cipher) Encrypt(token string) (string, error) {
	aead, err := c.aead()
	if err != nil {
		return "", err
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("auth: generate iv: %w", err)
	}
	sealed := aead.Seal(nil, iv, []byte(token), nil)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt opens an encoded blob. It returns ErrDecryption when the separator
// or either part is missing, or when verification fails because the blob was
// tampered with or sealed under a different key.
func (c *Cipher) Decrypt(blob string) (string, error) {
	parts := strings.SplitN(blob, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("%w: malformed blob", ErrDecryption)
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", fmt.Errorf("%w: bad iv", ErrDecryption)
	}
	sealed, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext", ErrDecryption)
	}
	aead, err := c.aead()
	if err != nil {
		return "", err
	}
	plain, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: verification failed", ErrDecryption)
	}
	return string(plain), nil
}
