package ufo

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// contentHash is the 256-bit digest captured when a chunk becomes resident,
// compared at eviction time to decide whether the chunk is dirty.
type contentHash [32]byte

// hasher computes keyed content hashes. The key is generated once per
// engine so a hostile populate callback cannot pre-compute hash collisions
// to make dirty pages look clean (or vice versa).
type hasher struct {
	key [32]byte
}

func newHasher() (*hasher, error) {
	h := &hasher{}
	if _, err := rand.Read(h.key[:]); err != nil {
		return nil, fmt.Errorf("generating hash key: %w", err)
	}
	return h, nil
}

func (h *hasher) sum(b []byte) contentHash {
	d, err := blake2b.New256(h.key[:])
	if err != nil {
		// Only possible if the key length is invalid, which it never is
		// here (fixed 32 bytes).
		panic(fmt.Sprintf("ufo: blake2b.New256: %v", err))
	}
	d.Write(b)
	var sum contentHash
	copy(sum[:], d.Sum(nil))
	return sum
}
