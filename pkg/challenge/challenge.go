// Package challenge implements the vault-index challenge used by the
// handshake to prove knowledge of a shared vault without ever transmitting
// key material: a peer issues a multiset of vault indices, and the other
// side proves possession of the vault by XOR-folding those entries.
package challenge

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

// Size is the length, in bytes, of a challenge nonce.
const Size = 12

// ErrMalformed indicates a challenge buffer was too short to decode.
var ErrMalformed = errors.New("challenge: malformed")

// Challenge is a (nonce, subset) pair: subset is a non-empty, order-
// significant sequence of vault indices.
type Challenge struct {
	nonce  [Size]byte
	subset []uint32
}

// New draws a fresh challenge against a vault of nKeys entries. If
// forbidden is non-nil and the drawn subset equals it element-wise, the
// subset is redrawn exactly once.
func New(nKeys int, forbidden []uint32) (*Challenge, error) {
	if nKeys <= 0 {
		return nil, fmt.Errorf("challenge: nKeys must be positive, got %d", nKeys)
	}

	c := &Challenge{}
	if _, err := rand.Read(c.nonce[:]); err != nil {
		return nil, fmt.Errorf("challenge: read nonce: %w", err)
	}

	subset, err := drawSubset(nKeys)
	if err != nil {
		return nil, err
	}
	if forbidden != nil && equalSubsets(subset, forbidden) {
		subset, err = drawSubset(nKeys)
		if err != nil {
			return nil, err
		}
	}
	c.subset = subset
	return c, nil
}

func drawSubset(nKeys int) ([]uint32, error) {
	size, err := randInt(1, nKeys)
	if err != nil {
		return nil, err
	}
	subset := make([]uint32, size)
	for i := range subset {
		idx, err := randInt(0, nKeys-1)
		if err != nil {
			return nil, err
		}
		subset[i] = uint32(idx)
	}
	return subset, nil
}

// randInt returns a uniform random integer in [lo, hi] inclusive.
func randInt(lo, hi int) (int, error) {
	span := big.NewInt(int64(hi - lo + 1))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, fmt.Errorf("challenge: draw random int: %w", err)
	}
	return lo + int(n.Int64()), nil
}

func equalSubsets(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Subset returns the challenge's drawn vault indices, in order.
func (c *Challenge) Subset() []uint32 {
	out := make([]uint32, len(c.subset))
	copy(out, c.subset)
	return out
}

// Nonce returns the challenge's 12-byte nonce.
func (c *Challenge) Nonce() [Size]byte {
	return c.nonce
}

// Solve XOR-folds vault[subset[0]] with vault[subset[1:]] in order,
// producing the 32-byte solution.
func Solve(vault [][]byte, subset []uint32) ([]byte, error) {
	if len(subset) == 0 {
		return nil, fmt.Errorf("challenge: empty subset")
	}
	for _, idx := range subset {
		if int(idx) >= len(vault) {
			return nil, fmt.Errorf("challenge: index %d out of range for vault of size %d", idx, len(vault))
		}
	}

	out := append([]byte(nil), vault[subset[0]]...)
	for _, idx := range subset[1:] {
		key := vault[idx]
		for i := range out {
			out[i] ^= key[i]
		}
	}
	return out, nil
}

// Solve computes this challenge's solution against vault.
func (c *Challenge) Solve(vault [][]byte) ([]byte, error) {
	return Solve(vault, c.subset)
}

// Verify checks candidateNonce against the stored nonce in constant time.
func (c *Challenge) Verify(candidateNonce []byte) bool {
	if len(candidateNonce) != Size {
		return false
	}
	return subtle.ConstantTimeCompare(c.nonce[:], candidateNonce) == 1
}

// ToBytes encodes the challenge as nonce(12) ‖ len(4 LE) ‖ idx[0](4 LE) …
func (c *Challenge) ToBytes() []byte {
	out := make([]byte, 0, Size+4+4*len(c.subset))
	out = append(out, c.nonce[:]...)

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(c.subset)))
	out = append(out, lenBuf...)

	for _, idx := range c.subset {
		idxBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(idxBuf, idx)
		out = append(out, idxBuf...)
	}
	return out
}

// FromBytes decodes a challenge previously produced by ToBytes.
func FromBytes(data []byte) (*Challenge, error) {
	if len(data) < Size+4 {
		return nil, fmt.Errorf("%w: buffer shorter than fixed header", ErrMalformed)
	}
	c := &Challenge{}
	copy(c.nonce[:], data[:Size])

	n := binary.LittleEndian.Uint32(data[Size : Size+4])
	want := Size + 4 + 4*int(n)
	if len(data) < want {
		return nil, fmt.Errorf("%w: buffer shorter than declared subset length", ErrMalformed)
	}

	subset := make([]uint32, n)
	offset := Size + 4
	for i := range subset {
		subset[i] = binary.LittleEndian.Uint32(data[offset : offset+4])
		offset += 4
	}
	c.subset = subset
	return c, nil
}
