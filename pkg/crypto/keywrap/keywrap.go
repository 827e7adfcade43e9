// Package keywrap optionally protects the device's local vault-encryption
// key file with a passphrase, deriving the wrapping key via Argon2id. This
// supplements the original reference, which always wrote the
// vault-encryption key to disk in the clear (see original_source/setup.py);
// wrapping is opt-in so the unwrapped default matches spec.md exactly.
package keywrap

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/example/vaultmesh/pkg/crypto/aead"
)

const (
	saltSize = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// Wrap derives a key from passphrase and salt, then seals keyBytes under it.
// The returned blob is salt‖nonce‖sealed and is what gets written to disk.
func Wrap(passphrase string, keyBytes []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keywrap: read salt: %w", err)
	}

	wrapKey := deriveKey(passphrase, salt)
	sealed, err := aead.Seal(wrapKey, keyBytes)
	if err != nil {
		return nil, fmt.Errorf("keywrap: seal: %w", err)
	}

	out := make([]byte, 0, saltSize+len(sealed))
	out = append(out, salt...)
	out = append(out, sealed...)
	return out, nil
}

// Unwrap reverses Wrap, recovering the original key bytes.
func Unwrap(passphrase string, blob []byte) ([]byte, error) {
	if len(blob) < saltSize {
		return nil, fmt.Errorf("keywrap: blob too short")
	}
	salt, sealed := blob[:saltSize], blob[saltSize:]
	wrapKey := deriveKey(passphrase, salt)
	keyBytes, err := aead.Open(wrapKey, sealed)
	if err != nil {
		return nil, fmt.Errorf("keywrap: open: %w", err)
	}
	return keyBytes, nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, aead.KeySize)
}
