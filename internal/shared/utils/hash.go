package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// HashAlgorithm represents the hashing algorithm to use
type HashAlgorithm string

const (
	SHA256  HashAlgorithm = "sha256"
	BLAKE2b HashAlgorithm = "blake2b"
)

// Hasher fingerprints script sources
type Hasher struct {
	algorithm HashAlgorithm
}

// NewHasher creates a new hasher with the specified algorithm.
// Unknown algorithms fall back to SHA256.
func NewHasher(algorithm HashAlgorithm) *Hasher {
	switch algorithm {
	case SHA256, BLAKE2b:
	default:
		algorithm = SHA256
	}
	return &Hasher{algorithm: algorithm}
}

// DefaultHasher returns the hasher used for card fingerprints
func DefaultHasher() *Hasher {
	return NewHasher(BLAKE2b)
}

// Algorithm returns the effective algorithm
func (h *Hasher) Algorithm() HashAlgorithm {
	return h.algorithm
}

func (h *Hasher) newHash() hash.Hash {
	if h.algorithm == BLAKE2b {
		// Only fails for an oversized key
		d, _ := blake2b.New256(nil)
		return d
	}
	return sha256.New()
}

// Hash computes a hex digest of data
func (h *Hasher) Hash(data []byte) string {
	d := h.newHash()
	d.Write(data)
	return hex.EncodeToString(d.Sum(nil))
}

// HashString computes a hex digest of s
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}

// ShortHash returns the first 12 hex characters of a full hash
func ShortHash(fullHash string) string {
	if len(fullHash) < 12 {
		return fullHash
	}
	return fullHash[:12]
}
