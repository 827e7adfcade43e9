// Package auth implements the Authenticator: the per-connection state
// machine that drives challenge-response handshakes, encrypts and decrypts
// application records, and rotates the shared vault after each session.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/example/vaultmesh/pkg/challenge"
	"github.com/example/vaultmesh/pkg/crypto/aead"
	"github.com/example/vaultmesh/pkg/framing"
	"github.com/example/vaultmesh/pkg/vault"
)

// KeyLen is the length, in bytes, of a session key and a vault entry.
const KeyLen = 32

// TimeToLive is the number of exchanged records (sent + received) after
// which a session's vault and session key must be rotated.
const TimeToLive = 9

// Role is an alias of vault.Role, re-exported with its constants so callers
// of the auth package need not import vault to name a protocol role.
type Role = vault.Role

const (
	RoleDevice    = vault.RoleDevice
	RoleCollector = vault.RoleCollector
)

// Config constructs an Authenticator for one connection.
type Config struct {
	DeviceID  uint32
	Role      Role
	SessionID uint32
	Vault     vault.Vault
	Store     *vault.Store
	Provider  vault.KeyProvider // required when Role == RoleDevice
}

// Authenticator owns the cryptographic state for one device identity on
// one connection. It is never shared across goroutines.
type Authenticator struct {
	deviceID uint32
	role     Role
	store    *vault.Store
	provider vault.KeyProvider

	mu         sync.Mutex
	vlt        vault.Vault
	sessionID  uint32
	sessionKey [KeyLen]byte
	exchanged  [][]byte
}

// New builds a fresh Authenticator: session_id from cfg, session_key fresh
// random, exchanged empty.
func New(cfg Config) (*Authenticator, error) {
	if len(cfg.Vault) == 0 {
		return nil, fmt.Errorf("auth: vault must be non-empty")
	}
	if cfg.Role == RoleDevice && cfg.Provider == nil {
		return nil, fmt.Errorf("auth: device role requires a key provider")
	}

	a := &Authenticator{
		deviceID:  cfg.DeviceID,
		role:      cfg.Role,
		store:     cfg.Store,
		provider:  cfg.Provider,
		vlt:       cfg.Vault.Clone(),
		sessionID: cfg.SessionID,
	}
	if _, err := rand.Read(a.sessionKey[:]); err != nil {
		return nil, fmt.Errorf("auth: read session key: %w", err)
	}
	return a, nil
}

// DeviceID returns the device identity this Authenticator concerns.
func (a *Authenticator) DeviceID() uint32 {
	return a.deviceID
}

// SessionID returns the current session counter.
func (a *Authenticator) SessionID() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// GenerateChallenge builds a fresh Challenge against the current vault,
// solves it, and optionally folds in the current session key. The
// returned advertisedSolution is the value the peer is expected to
// encrypt and return in a later message.
func (a *Authenticator) GenerateChallenge(foldSessionKey bool, forbidden []uint32) (advertisedSolution []byte, ch *challenge.Challenge, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch, err = challenge.New(len(a.vlt), forbidden)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: generate challenge: %w", err)
	}
	solution, err := ch.Solve(a.vlt)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: solve own challenge: %w", err)
	}
	if foldSessionKey {
		for i := range solution {
			solution[i] ^= a.sessionKey[i]
		}
	}
	return solution, ch, nil
}

// SolveChallenge computes ch.Solve(vault), XORing in xorMask if non-nil.
func (a *Authenticator) SolveChallenge(ch *challenge.Challenge, xorMask []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	solution, err := ch.Solve(a.vlt)
	if err != nil {
		return nil, fmt.Errorf("auth: solve challenge: %w", err)
	}
	if xorMask != nil {
		for i := range solution {
			solution[i] ^= xorMask[i]
		}
	}
	return solution, nil
}

// Handshake builds a type-0x30 Message. It concatenates, in order: answer
// (if non-nil), the current session key (if foldSessionKey), and
// challenge.ToBytes() (if non-nil); then, if encKey is non-nil, replaces
// the plaintext with its AEAD seal under encKey. On the collector role the
// frame's device_id is 0.
func (a *Authenticator) Handshake(foldSessionKey bool, encKey []byte, answer []byte, ch *challenge.Challenge) (framing.Message, error) {
	a.mu.Lock()
	deviceID := a.deviceID
	if a.role == RoleCollector {
		deviceID = 0
	}
	sessionID := a.sessionID

	payload := make([]byte, 0, len(answer)+KeyLen+64)
	if answer != nil {
		payload = append(payload, answer...)
	}
	if foldSessionKey {
		payload = append(payload, a.sessionKey[:]...)
	}
	a.mu.Unlock()

	if ch != nil {
		payload = append(payload, ch.ToBytes()...)
	}

	if encKey != nil {
		sealed, err := aead.Seal(encKey, payload)
		if err != nil {
			return framing.Message{}, fmt.Errorf("auth: seal handshake payload: %w", err)
		}
		payload = sealed
	}

	return framing.Message{
		DeviceID:  deviceID,
		SessionID: sessionID,
		Type:      framing.TypeHandshake,
		Payload:   payload,
	}, nil
}

// CheckHandshake validates msg's type, session_id, and device_id against
// what this role expects of its peer.
func (a *Authenticator) CheckHandshake(msg framing.Message) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return msg.Type == framing.TypeHandshake &&
		a.checkSessionIDLocked(msg.SessionID) &&
		a.checkDeviceIDLocked(msg.DeviceID)
}

// CheckDeviceID reports whether id is the expected peer identifier for
// this role: 0 on the device (the collector identifies as 0 in handshake
// frames), self.device_id on the collector.
func (a *Authenticator) CheckDeviceID(id uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkDeviceIDLocked(id)
}

func (a *Authenticator) checkDeviceIDLocked(id uint32) bool {
	if a.role == RoleDevice {
		return id == 0
	}
	return id == a.deviceID
}

// CheckSessionID reports whether id matches the current session counter.
func (a *Authenticator) CheckSessionID(id uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkSessionIDLocked(id)
}

func (a *Authenticator) checkSessionIDLocked(id uint32) bool {
	return id == a.sessionID
}

// FeedKey folds the peer's session-key contribution into our own. Called
// exactly once per side per handshake.
func (a *Authenticator) FeedKey(peerContribution []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.sessionKey {
		a.sessionKey[i] ^= peerContribution[i]
	}
}

// Encrypt seals plaintext under the session key and records it as
// exchanged, returning a type-0x31 Message.
func (a *Authenticator) Encrypt(plaintext []byte) (framing.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sealed, err := aead.Seal(a.sessionKey[:], plaintext)
	if err != nil {
		return framing.Message{}, fmt.Errorf("auth: encrypt record: %w", err)
	}
	a.exchanged = append(a.exchanged, append([]byte(nil), plaintext...))

	return framing.Message{
		DeviceID:  a.deviceID,
		SessionID: a.sessionID,
		Type:      framing.TypeRecord,
		Payload:   sealed,
	}, nil
}

// Decrypt validates and opens a type-0x31 Message, recording the
// plaintext as exchanged.
func (a *Authenticator) Decrypt(msg framing.Message) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if msg.Type != framing.TypeRecord || !a.checkDeviceIDLocked(msg.DeviceID) || !a.checkSessionIDLocked(msg.SessionID) {
		return nil, ErrInvalidFrame
	}

	plaintext, err := aead.Open(a.sessionKey[:], msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	a.exchanged = append(a.exchanged, append([]byte(nil), plaintext...))
	return plaintext, nil
}

// TimeLived returns the count of exchanged plaintexts (sent + received).
func (a *Authenticator) TimeLived() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.exchanged)
}

// Reset rotates the vault and rolls the session forward in place:
// derives a rotation tag from the exchanged transcript and the current
// vault, XORs that tag into every vault entry, persists the vault, then
// advances session_id, draws a fresh session key, and clears exchanged.
func (a *Authenticator) Reset(ctx context.Context) error {
	a.mu.Lock()

	stream := make([]byte, 0, len(a.exchanged)*KeyLen)
	for _, p := range a.exchanged {
		stream = append(stream, p...)
	}
	rotationKey := rotationKeyFromStream(stream)

	vaultStream := a.vlt.Concat()
	mac := hmac.New(sha256.New, rotationKey)
	mac.Write(vaultStream)
	tag := mac.Sum(nil)

	for _, k := range a.vlt {
		for i := range k {
			k[i] ^= tag[i]
		}
	}

	store, provider, deviceID, role, vlt := a.store, a.provider, a.deviceID, a.role, a.vlt
	a.mu.Unlock()

	if store != nil {
		if err := store.Store(ctx, deviceID, role, provider, vlt); err != nil {
			return fmt.Errorf("auth: persist rotated vault: %w", err)
		}
	}

	a.mu.Lock()
	a.sessionID++
	if _, err := rand.Read(a.sessionKey[:]); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("auth: draw fresh session key: %w", err)
	}
	a.exchanged = a.exchanged[:0]
	a.mu.Unlock()
	return nil
}

// rotationKeyFromStream repeats stream once if it's shorter than KeyLen,
// then truncates to at most KeyLen bytes. A transcript shorter than 16
// bytes after doubling yields a rotation key under KeyLen; HMAC accepts
// keys of any length, so this is passed through unpadded.
func rotationKeyFromStream(stream []byte) []byte {
	key := stream
	if len(key) < KeyLen {
		key = append(append([]byte(nil), stream...), stream...)
	}
	if len(key) > KeyLen {
		key = key[:KeyLen]
	}
	return key
}
