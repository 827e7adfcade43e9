package vault

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/example/vaultmesh/internal/platform/secrets"
)

// SecretsKeyProvider resolves a device's vault-encryption key from a
// HashiCorp Vault KV mount instead of a local file, one secret per device
// keyed by device ID, with the key material hex-encoded under "key".
type SecretsKeyProvider struct {
	Manager secrets.Resolver
	PathFmt string // e.g. "device-keys/%d"; defaults if empty
}

// VaultEncryptionKey implements KeyProvider.
func (p *SecretsKeyProvider) VaultEncryptionKey(ctx context.Context, deviceID uint32) ([]byte, error) {
	pathFmt := p.PathFmt
	if pathFmt == "" {
		pathFmt = "device-keys/%d"
	}
	path := fmt.Sprintf(pathFmt, deviceID)

	data, err := p.Manager.GetKV(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch vault-encryption key from secrets backend: %v", ErrStorage, err)
	}
	hexKey, ok := data["key"]
	if !ok {
		return nil, fmt.Errorf("%w: secret %q missing \"key\" field", ErrVaultCorrupt, path)
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: decode vault-encryption key: %v", ErrVaultCorrupt, err)
	}
	return key, nil
}
