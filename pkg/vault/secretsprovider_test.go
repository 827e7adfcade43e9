package vault

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"
)

type fakeResolver struct {
	data map[string]map[string]string
	err  error
}

func (f fakeResolver) GetKV(ctx context.Context, path string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.data[path]
	if !ok {
		return nil, errors.New("fakeResolver: no secret at path")
	}
	return data, nil
}

func TestSecretsKeyProviderRoundTrip(t *testing.T) {
	key := randKey(t)
	resolver := fakeResolver{data: map[string]map[string]string{
		"device-keys/11": {"key": hex.EncodeToString(key)},
	}}
	p := &SecretsKeyProvider{Manager: resolver}

	got, err := p.VaultEncryptionKey(context.Background(), 11)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatal("round trip mismatch")
	}
}

func TestSecretsKeyProviderCustomPathFmt(t *testing.T) {
	key := randKey(t)
	resolver := fakeResolver{data: map[string]map[string]string{
		"secret/vaultmesh/7": {"key": hex.EncodeToString(key)},
	}}
	p := &SecretsKeyProvider{Manager: resolver, PathFmt: "secret/vaultmesh/%d"}

	got, err := p.VaultEncryptionKey(context.Background(), 7)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatal("round trip mismatch")
	}
}

func TestSecretsKeyProviderMissingKeyField(t *testing.T) {
	resolver := fakeResolver{data: map[string]map[string]string{
		"device-keys/2": {"other": "value"},
	}}
	p := &SecretsKeyProvider{Manager: resolver}

	if _, err := p.VaultEncryptionKey(context.Background(), 2); !errors.Is(err, ErrVaultCorrupt) {
		t.Fatalf("expected ErrVaultCorrupt, got %v", err)
	}
}

func TestSecretsKeyProviderInvalidHex(t *testing.T) {
	resolver := fakeResolver{data: map[string]map[string]string{
		"device-keys/2": {"key": "not-hex"},
	}}
	p := &SecretsKeyProvider{Manager: resolver}

	if _, err := p.VaultEncryptionKey(context.Background(), 2); !errors.Is(err, ErrVaultCorrupt) {
		t.Fatalf("expected ErrVaultCorrupt, got %v", err)
	}
}

func TestSecretsKeyProviderBackendError(t *testing.T) {
	resolver := fakeResolver{err: errors.New("vault unreachable")}
	p := &SecretsKeyProvider{Manager: resolver}

	if _, err := p.VaultEncryptionKey(context.Background(), 2); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}
