package auth

import (
	"sync"
	"time"
)

// RotationPolicy decides when an Authenticator's session has lived long
// enough to warrant Reset, and tracks idle time for observability.
//
// Adapted from the teacher's rotation.Manager: that type gated on wall-
// clock interval, packet count, and permitted clock skew. Here rotation
// is strictly message-count driven (spec mandates exactly TimeToLive
// records, never wall-clock time), so Interval and Skew are dropped from
// the decision and IdleSince survives only as an informational accessor
// that no rotation decision reads.
//
// A single RotationPolicy is shared across every connection a collector
// serves, so MarkRecord/IdleSince guard idleSince with a mutex; ShouldRotate
// only reads the caller-supplied Authenticator and needs no locking.
type RotationPolicy struct {
	MaxMessages int

	mu        sync.Mutex
	idleSince time.Time
}

// NewRotationPolicy returns a policy gating on TimeToLive records.
func NewRotationPolicy() *RotationPolicy {
	return &RotationPolicy{MaxMessages: TimeToLive, idleSince: timeNow()}
}

// ShouldRotate reports whether a's exchanged count has reached the
// configured threshold.
func (p *RotationPolicy) ShouldRotate(a *Authenticator) bool {
	return a.TimeLived() >= p.MaxMessages
}

// MarkRecord resets the idle clock; call after every successful encrypt
// or decrypt.
func (p *RotationPolicy) MarkRecord() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idleSince = timeNow()
}

// IdleSince returns the timestamp of the most recent record, informational
// only — never consulted by Authenticator.Reset.
func (p *RotationPolicy) IdleSince() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idleSince
}

// timeNow is a seam so tests can avoid depending on wall-clock time.
var timeNow = time.Now
