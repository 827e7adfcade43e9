package keywrap

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand key: %v", err)
	}

	blob, err := Wrap("correct horse battery staple", key)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	got, err := Unwrap("correct horse battery staple", blob)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatal("unwrapped key does not match original")
	}
}

func TestUnwrapWrongPassphraseFails(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand key: %v", err)
	}

	blob, err := Wrap("right passphrase", key)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	if _, err := Unwrap("wrong passphrase", blob); err == nil {
		t.Fatal("expected failure with wrong passphrase")
	}
}
