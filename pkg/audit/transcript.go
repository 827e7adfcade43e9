// Package audit provides a non-protocol handshake fingerprint: a
// domain-separated blake3 hash folding in each handshake milestone, used
// only for logs and traces. Nothing in pkg/auth or pkg/handshake reads it
// back; it never influences the session key or vault rotation.
package audit

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
)

// Trail accumulates labeled handshake events into a running hash so an
// operator can compare fingerprints across device and collector logs
// without reassembling the full transcript.
type Trail struct {
	mu     sync.Mutex
	hasher *blake3.Hasher
	events []string
}

// NewTrail starts a trail domain-separated by deviceID and sessionID so
// fingerprints from unrelated sessions never collide.
func NewTrail(deviceID, sessionID uint32) *Trail {
	h := blake3.New()
	_, _ = h.Write([]byte("vaultmesh-handshake"))
	_, _ = h.Write(uint32LE(deviceID))
	_, _ = h.Write(uint32LE(sessionID))
	return &Trail{hasher: h, events: make([]string, 0, 4)}
}

// Record folds a labeled milestone (e.g. "m1_sent", "m4_verified") and an
// arbitrary JSON-serializable detail into the trail.
func (t *Trail) Record(label string, detail any) error {
	serialized, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("audit: marshal %s: %w", label, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.hasher.Write([]byte(label))
	_, _ = t.hasher.Write(serialized)
	t.events = append(t.events, label)
	return nil
}

// Fingerprint returns the current running hash, hex-free raw bytes.
func (t *Trail) Fingerprint() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasher.Clone().Sum(nil)
}

// Events lists the labels recorded so far, in order.
func (t *Trail) Events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.events))
	copy(out, t.events)
	return out
}

func uint32LE(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
