// Package aead implements the wire AEAD envelope used throughout vaultmesh:
// AES-256-GCM with a fresh random 96-bit nonce prepended to the sealed
// ciphertext and no associated data.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// NonceSize is the length, in bytes, of the random nonce prepended to every
// sealed envelope.
const NonceSize = 12

// KeySize is the length, in bytes, of an AES-256-GCM key.
const KeySize = 32

// Seal encrypts plaintext under key, returning nonce‖sealed.
func Seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("aead: read nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Open reverses Seal: env must be nonce‖sealed. Any tampering or wrong key
// surfaces as an error.
func Open(key, env []byte) ([]byte, error) {
	if len(env) < NonceSize {
		return nil, fmt.Errorf("aead: envelope too short")
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce, sealed := env[:NonceSize], env[NonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("aead: open: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aead: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aead: new gcm: %w", err)
	}
	return gcm, nil
}
