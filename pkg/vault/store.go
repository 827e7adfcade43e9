// Package vault implements the Vault Store component: loading and
// persisting a device's ordered list of shared symmetric keys, encrypted at
// rest on the device side under a vault-encryption key.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/vaultmesh/pkg/crypto/aead"
)

// KeySize is the fixed length, in bytes, of every vault key.
const KeySize = 32

// DefaultSize is the reference vault length used at provisioning.
const DefaultSize = 128

// ErrVaultCorrupt indicates the stored vault failed a length or AEAD check.
var ErrVaultCorrupt = errors.New("vault: corrupt")

// ErrStorage indicates an I/O failure while reading or writing vault state.
var ErrStorage = errors.New("vault: storage error")

// Role identifies which side of the protocol is reading/writing the vault.
type Role int

const (
	RoleDevice Role = iota
	RoleCollector
)

// Vault is an ordered, fixed-width list of shared symmetric keys.
type Vault [][]byte

// Clone returns a deep copy so callers can mutate independently of storage.
func (v Vault) Clone() Vault {
	out := make(Vault, len(v))
	for i, k := range v {
		out[i] = append([]byte(nil), k...)
	}
	return out
}

// Concat returns the vault's keys concatenated in order.
func (v Vault) Concat() []byte {
	out := make([]byte, 0, len(v)*KeySize)
	for _, k := range v {
		out = append(out, k...)
	}
	return out
}

// KeyProvider resolves the device-local vault-encryption key used to seal
// the on-disk vault file. Device role only; the collector stores vaults in
// the clear.
type KeyProvider interface {
	VaultEncryptionKey(ctx context.Context, deviceID uint32) ([]byte, error)
}

// Paths configures the on-disk layout (spec.md §6).
type Paths struct {
	CollectorVaultDir string // svVaults/
	DeviceVaultDir    string // dvVaults/
}

// DefaultPaths returns the reference directory names.
func DefaultPaths() Paths {
	return Paths{
		CollectorVaultDir: "svVaults",
		DeviceVaultDir:    "dvVaults",
	}
}

// Store reads and writes vault files for either role.
type Store struct {
	paths Paths
}

// New constructs a Store rooted at the given paths.
func New(paths Paths) *Store {
	if paths.CollectorVaultDir == "" || paths.DeviceVaultDir == "" {
		def := DefaultPaths()
		if paths.CollectorVaultDir == "" {
			paths.CollectorVaultDir = def.CollectorVaultDir
		}
		if paths.DeviceVaultDir == "" {
			paths.DeviceVaultDir = def.DeviceVaultDir
		}
	}
	return &Store{paths: paths}
}

// Load reads the vault for deviceID. On the collector role, the file is
// read as a raw concatenation of keys. On the device role, the file is
// AEAD-decrypted under the key resolved from provider.
func (s *Store) Load(ctx context.Context, deviceID uint32, role Role, provider KeyProvider) (Vault, error) {
	switch role {
	case RoleCollector:
		raw, err := os.ReadFile(s.path(role, deviceID))
		if err != nil {
			return nil, fmt.Errorf("%w: read collector vault: %v", ErrStorage, err)
		}
		return sliceVault(raw)
	case RoleDevice:
		if provider == nil {
			return nil, fmt.Errorf("vault: key provider required for device role")
		}
		encKey, err := provider.VaultEncryptionKey(ctx, deviceID)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve vault-encryption key: %v", ErrStorage, err)
		}
		encrypted, err := os.ReadFile(s.path(role, deviceID))
		if err != nil {
			return nil, fmt.Errorf("%w: read device vault: %v", ErrStorage, err)
		}
		raw, err := aead.Open(encKey, encrypted)
		if err != nil {
			return nil, fmt.Errorf("%w: decrypt device vault: %v", ErrVaultCorrupt, err)
		}
		return sliceVault(raw)
	default:
		return nil, fmt.Errorf("vault: unknown role %d", role)
	}
}

// Store persists vault for deviceID, atomically replacing any existing
// file. Collector writes the raw concatenation; device encrypts it first.
func (s *Store) Store(ctx context.Context, deviceID uint32, role Role, provider KeyProvider, v Vault) error {
	raw := v.Concat()

	var payload []byte
	switch role {
	case RoleCollector:
		payload = raw
	case RoleDevice:
		if provider == nil {
			return fmt.Errorf("vault: key provider required for device role")
		}
		encKey, err := provider.VaultEncryptionKey(ctx, deviceID)
		if err != nil {
			return fmt.Errorf("%w: resolve vault-encryption key: %v", ErrStorage, err)
		}
		sealed, err := aead.Seal(encKey, raw)
		if err != nil {
			return fmt.Errorf("%w: encrypt device vault: %v", ErrStorage, err)
		}
		payload = sealed
	default:
		return fmt.Errorf("vault: unknown role %d", role)
	}

	return atomicWrite(s.path(role, deviceID), payload)
}

func (s *Store) path(role Role, deviceID uint32) string {
	dir := s.paths.CollectorVaultDir
	if role == RoleDevice {
		dir = s.paths.DeviceVaultDir
	}
	return filepath.Join(dir, fmt.Sprintf("%d", deviceID))
}

func sliceVault(raw []byte) (Vault, error) {
	if len(raw) == 0 || len(raw)%KeySize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a positive multiple of %d", ErrVaultCorrupt, len(raw), KeySize)
	}
	n := len(raw) / KeySize
	out := make(Vault, n)
	for i := 0; i < n; i++ {
		out[i] = append([]byte(nil), raw[i*KeySize:(i+1)*KeySize]...)
	}
	return out, nil
}

func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("%w: mkdir: %v", ErrStorage, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrStorage, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write temp file: %v", ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %v", ErrStorage, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: rename into place: %v", ErrStorage, err)
	}
	return nil
}
