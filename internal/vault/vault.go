// Package vault seals wallet signing keys at rest.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrKeySize = errors.New("vault: key must be 32 bytes")
	ErrSealed  = errors.New("vault: cannot open sealed value")
)

// Vault encrypts secrets with XChaCha20-Poly1305. The sealed form is
// base64(nonce || ciphertext). The associated data binds a secret to its
// owner so a sealed key copied onto another wallet row will not open.
type Vault struct {
	aead cipher.AEAD
}

// New creates a vault from a 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrKeySize
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Seal encrypts plaintext bound to owner.
func (v *Vault) Seal(plaintext, owner string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plaintext)+v.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	out := v.aead.Seal(nonce, nonce, []byte(plaintext), []byte(owner))
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal for the same owner.
func (v *Vault) Open(sealed, owner string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < v.aead.NonceSize()+v.aead.Overhead() {
		return "", ErrSealed
	}
	nonce, ct := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	pt, err := v.aead.Open(nil, nonce, ct, []byte(owner))
	if err != nil {
		return "", ErrSealed
	}
	return string(pt), nil
}
