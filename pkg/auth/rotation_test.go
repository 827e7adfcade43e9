package auth

import (
	"testing"
	"time"
)

func TestRotationPolicyShouldRotateFalseForFreshAuthenticator(t *testing.T) {
	v := randVault(t, 4)
	a, err := New(Config{DeviceID: 1, Role: RoleCollector, Vault: v})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	p := NewRotationPolicy()
	if p.ShouldRotate(a) {
		t.Fatal("fresh authenticator should not be due for rotation")
	}
}

func TestRotationPolicyMarkRecordAdvancesIdleSince(t *testing.T) {
	p := NewRotationPolicy()
	before := p.IdleSince()

	restore := timeNow
	timeNow = func() time.Time { return before.Add(time.Minute) }
	defer func() { timeNow = restore }()

	p.MarkRecord()
	if !p.IdleSince().After(before) {
		t.Fatal("expected MarkRecord to advance idleSince")
	}
}

func TestRotationPolicyMaxMessagesDefaultsToTimeToLive(t *testing.T) {
	p := NewRotationPolicy()
	if p.MaxMessages != TimeToLive {
		t.Fatalf("expected MaxMessages %d, got %d", TimeToLive, p.MaxMessages)
	}
}
