package idlink

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher computes and verifies one-way password digests. Implementations
// must salt every digest so hashing the same plaintext twice yields
// different values, and Verify must never panic or error on malformed
// digests - it just returns false.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// BcryptCost is the fixed work factor for password digests. Matches
// bcrypt.DefaultCost; raising it transparently upgrades digests on the next
// successful login via NeedsRehash.
const BcryptCost = bcrypt.DefaultCost

// BcryptHasher implements Hasher with bcrypt. The zero value uses
// BcryptCost.
type BcryptHasher struct {
	// Cost overrides the work factor. Values below bcrypt.MinCost fall back
	// to BcryptCost. Tests may lower it to keep hashing fast.
	Cost int
}

func (h *BcryptHasher) cost() int {
	if h.Cost >= bcrypt.MinCost {
		return h.Cost
	}
	return BcryptCost
}

// Hash produces a salted digest of plaintext. Empty input is the caller's
// problem, not ours; bcrypt happily hashes it.
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHashingFailure, err)
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. Comparison cost is
// dominated by the bcrypt work factor, which does not depend on where the
// inputs diverge. Malformed digests verify as false.
func (h *BcryptHasher) Verify(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// NeedsRehash reports whether digest was produced at a lower work factor
// than the hasher is configured for, or is not a bcrypt digest at all.
// Callers use this after a successful Verify to upgrade stored digests.
func (h *BcryptHasher) NeedsRehash(digest string) bool {
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return true
	}
	return cost < h.cost()
}
