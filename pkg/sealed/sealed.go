// Package sealed provides authenticated encryption for records persisted
// by the voiceprint store. Biometric references are sensitive: an
// attacker who reads them off disk could replay or model the enrolled
// voice, so the store encrypts every record at rest when a key is
// configured.
//
// The key is derived from a passphrase via SHA-256 and used with
// AES-256-GCM. Each Seal call draws a fresh random nonce, prepended to
// the ciphertext.
package sealed

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// ErrBadSeal is returned when a sealed record fails authentication
// (wrong key, truncated or tampered data).
var ErrBadSeal = errors.New("sealed: cannot open record")

// Codec seals and opens byte records with AES-256-GCM.
// It is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// New derives a Codec from a passphrase. The passphrase is hashed with
// SHA-256 to produce the AES-256 key.
func New(passphrase []byte) (*Codec, error) {
	key := sha256.Sum256(passphrase)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Seal encrypts plain and returns nonce||ciphertext.
func (c *Codec) Seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("sealed: nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plain, nil), nil
}

// Open decrypts a record produced by Seal. Returns ErrBadSeal when the
// data cannot be authenticated.
func (c *Codec) Open(sealedData []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(sealedData) < ns {
		return nil, ErrBadSeal
	}
	plain, err := c.aead.Open(nil, sealedData[:ns], sealedData[ns:], nil)
	if err != nil {
		return nil, ErrBadSeal
	}
	return plain, nil
}
