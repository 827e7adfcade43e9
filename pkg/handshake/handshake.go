// Package handshake implements the two scripted role programs — device-
// initiator and collector-responder — that sequence the four handshake
// messages (M1-M4) into a completed, key-agreed session.
package handshake

import (
	"context"
	"fmt"

	"github.com/example/vaultmesh/pkg/auth"
	"github.com/example/vaultmesh/pkg/challenge"
	"github.com/example/vaultmesh/pkg/crypto/aead"
	"github.com/example/vaultmesh/pkg/framing"
)

// Transport is the minimal surface the handshake needs from a connection:
// framed message read/write. net.Conn satisfies io.ReadWriter directly;
// callers pass it through framing.Read/Write via this pair of funcs so the
// handshake package never needs to know about net.Conn specifically.
type Transport interface {
	ReadMessage() (framing.Message, error)
	WriteMessage(framing.Message) error
}

// AdmissionPolicy is evaluated by the collector before M1 is processed
// further, once per connection attempt. It is an addition beyond
// spec.md's own components (see ErrAdmissionDenied).
type AdmissionPolicy interface {
	Allow(ctx context.Context, deviceID uint32) (bool, error)
}

// RunDevice drives the device-initiator role program over tr using a.
// a must already hold the device's current vault and be freshly
// constructed or just Reset. Returns once the session is live (after M4).
func RunDevice(ctx context.Context, tr Transport, a *auth.Authenticator) error {
	// M1: empty handshake.
	m1, err := a.Handshake(false, nil, nil, nil)
	if err != nil {
		return fmt.Errorf("handshake: build m1: %w", err)
	}
	if err := tr.WriteMessage(m1); err != nil {
		return fmt.Errorf("handshake: send m1: %w", err)
	}

	// M2: collector's challenge.
	m2, err := tr.ReadMessage()
	if err != nil {
		return fmt.Errorf("handshake: recv m2: %w", err)
	}
	chC, err := challenge.FromBytes(m2.Payload)
	if err != nil {
		return fmt.Errorf("handshake: parse m2: %w", err)
	}
	k1, err := a.SolveChallenge(chC, nil)
	if err != nil {
		return fmt.Errorf("handshake: solve m2 challenge: %w", err)
	}

	k2Advertised, chD, err := a.GenerateChallenge(true, chC.Subset())
	if err != nil {
		return fmt.Errorf("handshake: generate own challenge: %w", err)
	}

	chCNonce := chC.Nonce()
	m3, err := a.Handshake(true, k1, chCNonce[:], chD)
	if err != nil {
		return fmt.Errorf("handshake: build m3: %w", err)
	}
	if err := tr.WriteMessage(m3); err != nil {
		return fmt.Errorf("handshake: send m3: %w", err)
	}

	// M4: collector's answer to ch_D, carrying K_C.
	m4, err := tr.ReadMessage()
	if err != nil {
		return fmt.Errorf("handshake: recv m4: %w", err)
	}
	if !a.CheckHandshake(m4) {
		return fmt.Errorf("%w: m4 header mismatch", ErrHandshakeFail)
	}
	plaintext, err := aead.Open(k2Advertised, m4.Payload)
	if err != nil {
		return fmt.Errorf("%w: m4 decrypt: %v", ErrHandshakeFail, err)
	}
	if len(plaintext) < challenge.Size+auth.KeyLen {
		return fmt.Errorf("%w: m4 payload too short", ErrHandshakeFail)
	}
	chDNonce := chD.Nonce()
	if !constantTimeEqual(plaintext[:challenge.Size], chDNonce[:]) {
		return fmt.Errorf("%w: m4 nonce mismatch", ErrHandshakeFail)
	}
	kC := plaintext[challenge.Size : challenge.Size+auth.KeyLen]
	a.FeedKey(kC)
	return nil
}

// RunCollector drives the collector-responder role program over tr for a
// newly-arrived M1. a must already be constructed for the claimed
// device_id/session_id (the caller is responsible for registry claim and
// AdmissionPolicy evaluation before calling this).
func RunCollector(ctx context.Context, tr Transport, a *auth.Authenticator) error {
	k1, chC, err := a.GenerateChallenge(false, nil)
	if err != nil {
		return fmt.Errorf("handshake: generate m2 challenge: %w", err)
	}
	m2, err := a.Handshake(false, nil, nil, chC)
	if err != nil {
		return fmt.Errorf("handshake: build m2: %w", err)
	}
	if err := tr.WriteMessage(m2); err != nil {
		return fmt.Errorf("handshake: send m2: %w", err)
	}

	m3, err := tr.ReadMessage()
	if err != nil {
		return fmt.Errorf("handshake: recv m3: %w", err)
	}
	if !a.CheckHandshake(m3) {
		return fmt.Errorf("%w: m3 header mismatch", ErrHandshakeFail)
	}
	plaintext, err := aead.Open(k1, m3.Payload)
	if err != nil {
		return fmt.Errorf("%w: m3 decrypt: %v", ErrHandshakeFail, err)
	}
	if len(plaintext) < challenge.Size+auth.KeyLen {
		return fmt.Errorf("%w: m3 payload too short", ErrHandshakeFail)
	}
	chCNonce := chC.Nonce()
	if !constantTimeEqual(plaintext[:challenge.Size], chCNonce[:]) {
		return fmt.Errorf("%w: m3 nonce mismatch", ErrHandshakeFail)
	}
	kD := plaintext[challenge.Size : challenge.Size+auth.KeyLen]
	chD, err := challenge.FromBytes(plaintext[challenge.Size+auth.KeyLen:])
	if err != nil {
		return fmt.Errorf("handshake: parse ch_D: %w", err)
	}

	k2, err := a.SolveChallenge(chD, kD)
	if err != nil {
		return fmt.Errorf("handshake: solve ch_D: %w", err)
	}

	// M4 carries our own half, so K_D is folded in only after M4 is built.
	chDNonce := chD.Nonce()
	m4, err := a.Handshake(true, k2, chDNonce[:], nil)
	if err != nil {
		return fmt.Errorf("handshake: build m4: %w", err)
	}
	a.FeedKey(kD)
	if err := tr.WriteMessage(m4); err != nil {
		return fmt.Errorf("handshake: send m4: %w", err)
	}
	return nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
