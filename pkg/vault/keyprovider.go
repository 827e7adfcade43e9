package vault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/vaultmesh/pkg/crypto/keywrap"
)

// FileKeyProvider reads a device's vault-encryption key from a flat file on
// disk, one file per device, named by device ID. If Passphrase is set, the
// on-disk file is treated as a keywrap blob and unwrapped on read.
type FileKeyProvider struct {
	Dir        string
	Passphrase string
}

// VaultEncryptionKey implements KeyProvider.
func (p *FileKeyProvider) VaultEncryptionKey(ctx context.Context, deviceID uint32) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(p.Dir, fmt.Sprintf("%d", deviceID)))
	if err != nil {
		return nil, fmt.Errorf("%w: read vault-encryption key file: %v", ErrStorage, err)
	}
	if p.Passphrase == "" {
		return raw, nil
	}
	return keywrap.Unwrap(p.Passphrase, raw)
}

// Provision writes a fresh vault-encryption key for deviceID, wrapping it
// under Passphrase when one is configured. Used by provisioning tooling,
// not by the runtime handshake path.
func (p *FileKeyProvider) Provision(deviceID uint32, key []byte) error {
	out := key
	if p.Passphrase != "" {
		wrapped, err := keywrap.Wrap(p.Passphrase, key)
		if err != nil {
			return fmt.Errorf("keyprovider: wrap: %w", err)
		}
		out = wrapped
	}
	return atomicWrite(filepath.Join(p.Dir, fmt.Sprintf("%d", deviceID)), out)
}
