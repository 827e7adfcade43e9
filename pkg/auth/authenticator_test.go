package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/example/vaultmesh/pkg/challenge"
	"github.com/example/vaultmesh/pkg/crypto/aead"
	"github.com/example/vaultmesh/pkg/vault"
)

func randVault(t *testing.T, n int) vault.Vault {
	t.Helper()
	v := make(vault.Vault, n)
	for i := range v {
		v[i] = make([]byte, KeyLen)
		if _, err := rand.Read(v[i]); err != nil {
			t.Fatalf("rand: %v", err)
		}
	}
	return v
}

type memProvider struct{ key []byte }

func (p memProvider) VaultEncryptionKey(ctx context.Context, deviceID uint32) ([]byte, error) {
	return p.key, nil
}

// handshakeOnce drives a full M1-M4 exchange directly between two
// Authenticators sharing a vault, without a transport, mirroring
// pkg/handshake's role programs for the purpose of exercising Authenticator.
func handshakeOnce(t *testing.T, device, collector *Authenticator) {
	t.Helper()

	// M1: device -> collector (empty handshake). Nothing to build here;
	// the collector already exists with device's claimed session_id.

	// M2: collector -> device.
	k1, chC, err := collector.GenerateChallenge(false, nil)
	if err != nil {
		t.Fatalf("collector generate challenge: %v", err)
	}
	m2, err := collector.Handshake(false, nil, nil, chC)
	if err != nil {
		t.Fatalf("collector build m2: %v", err)
	}
	chCRecv, err := challenge.FromBytes(m2.Payload)
	if err != nil {
		t.Fatalf("device parse m2: %v", err)
	}

	// Device computes k1 locally and builds its own challenge.
	deviceK1, err := device.SolveChallenge(chCRecv, nil)
	if err != nil {
		t.Fatalf("device solve m2 challenge: %v", err)
	}
	if !bytes.Equal(deviceK1, k1) {
		t.Fatalf("device and collector disagree on k1")
	}

	k2Advertised, chD, err := device.GenerateChallenge(true, chCRecv.Subset())
	if err != nil {
		t.Fatalf("device generate challenge: %v", err)
	}

	// M3: device -> collector, AEAD under k1.
	chCRecvNonce := chCRecv.Nonce()
	m3, err := device.Handshake(true, deviceK1, chCRecvNonce[:], chD)
	if err != nil {
		t.Fatalf("device build m3: %v", err)
	}
	if !collector.CheckHandshake(m3) {
		t.Fatalf("collector rejects m3 header")
	}

	decrypted, err := aead.Open(k1, m3.Payload)
	if err != nil {
		t.Fatalf("collector decrypt m3: %v", err)
	}
	gotNonce := decrypted[:challenge.Size]
	wantNonce := chC.Nonce()
	if !bytes.Equal(gotNonce, wantNonce[:]) {
		t.Fatalf("m3 nonce mismatch")
	}
	kD := decrypted[challenge.Size : challenge.Size+KeyLen]
	chDRecv, err := challenge.FromBytes(decrypted[challenge.Size+KeyLen:])
	if err != nil {
		t.Fatalf("collector parse ch_D: %v", err)
	}

	k2, err := collector.SolveChallenge(chDRecv, kD)
	if err != nil {
		t.Fatalf("collector solve challenge: %v", err)
	}
	if !bytes.Equal(k2, k2Advertised) {
		t.Fatalf("collector and device disagree on k2")
	}

	// M4: collector -> device, AEAD under k2.
	chDNonce := chDRecv.Nonce()
	m4, err := collector.Handshake(true, k2, chDNonce[:], nil)
	if err != nil {
		t.Fatalf("collector build m4: %v", err)
	}
	collector.FeedKey(kD)
	if !device.CheckHandshake(m4) {
		t.Fatalf("device rejects m4 header")
	}
	decrypted4, err := aead.Open(k2Advertised, m4.Payload)
	if err != nil {
		t.Fatalf("device decrypt m4: %v", err)
	}
	wantChDNonce := chD.Nonce()
	if !bytes.Equal(decrypted4[:challenge.Size], wantChDNonce[:]) {
		t.Fatalf("m4 nonce mismatch")
	}
	kC := decrypted4[challenge.Size : challenge.Size+KeyLen]
	device.FeedKey(kC)
}

func newPair(t *testing.T, v vault.Vault) (*Authenticator, *Authenticator) {
	t.Helper()
	device, err := New(Config{DeviceID: 1058, Role: RoleDevice, SessionID: 0, Vault: v, Provider: memProvider{key: make([]byte, aead.KeySize)}})
	if err != nil {
		t.Fatalf("new device: %v", err)
	}
	collector, err := New(Config{DeviceID: 1058, Role: RoleCollector, SessionID: 0, Vault: v})
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	return device, collector
}

func TestHandshakeAgreesOnSessionKey(t *testing.T) {
	v := randVault(t, 128)
	device, collector := newPair(t, v)
	handshakeOnce(t, device, collector)

	if device.SessionID() != 0 || collector.SessionID() != 0 {
		t.Fatalf("expected session_id 0 on both sides")
	}
	if device.TimeLived() != 0 || collector.TimeLived() != 0 {
		t.Fatalf("expected empty exchanged after handshake")
	}

	plaintext := []byte("hello")
	msg, err := device.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := collector.Decrypt(msg)
	if err != nil {
		t.Fatalf("decrypt: %v (session keys disagree)", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("plaintext mismatch: %q", got)
	}
	if device.TimeLived() != 1 || collector.TimeLived() != 1 {
		t.Fatalf("expected exchanged length 1 on both sides")
	}
}

func TestRecordTamperingFailsAuth(t *testing.T) {
	v := randVault(t, 128)
	device, collector := newPair(t, v)
	handshakeOnce(t, device, collector)

	msg, err := device.Encrypt([]byte("abc"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	msg.Payload[len(msg.Payload)-1] ^= 0xFF

	if _, err := collector.Decrypt(msg); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDecryptRejectsWrongSessionID(t *testing.T) {
	v := randVault(t, 128)
	device, collector := newPair(t, v)
	handshakeOnce(t, device, collector)

	msg, err := device.Encrypt([]byte("abc"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	msg.SessionID = 5

	if _, err := collector.Decrypt(msg); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
	if collector.TimeLived() != 0 {
		t.Fatalf("expected no state mutation on rejected frame")
	}
}

func TestResetRotatesToIdenticalVaultsOnBothSides(t *testing.T) {
	v := randVault(t, 8)
	device, collector := newPair(t, v)
	handshakeOnce(t, device, collector)

	for i := 0; i < TimeToLive; i++ {
		msg, err := device.Encrypt([]byte("x"))
		if err != nil {
			t.Fatalf("encrypt %d: %v", i, err)
		}
		if _, err := collector.Decrypt(msg); err != nil {
			t.Fatalf("decrypt %d: %v", i, err)
		}
	}

	ctx := context.Background()
	if err := device.Reset(ctx); err != nil {
		t.Fatalf("device reset: %v", err)
	}
	if err := collector.Reset(ctx); err != nil {
		t.Fatalf("collector reset: %v", err)
	}

	if device.SessionID() != 1 || collector.SessionID() != 1 {
		t.Fatalf("expected session_id 1 after reset")
	}
	if device.TimeLived() != 0 || collector.TimeLived() != 0 {
		t.Fatalf("expected exchanged cleared after reset")
	}
	if !bytes.Equal(device.vlt.Concat(), collector.vlt.Concat()) {
		t.Fatalf("rotated vaults diverged between device and collector")
	}
	if bytes.Equal(device.vlt.Concat(), v.Concat()) {
		t.Fatalf("vault did not change after rotation")
	}
}

func TestGenerateChallengeProducesNonEmptySubset(t *testing.T) {
	v := randVault(t, 128)
	a, err := New(Config{DeviceID: 1, Role: RoleCollector, Vault: v})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, ch, err := a.GenerateChallenge(false, nil)
	if err != nil {
		t.Fatalf("generate challenge: %v", err)
	}
	if len(ch.Subset()) == 0 {
		t.Fatalf("expected non-empty subset")
	}
}
