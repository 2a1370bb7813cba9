// Package sha256 computes manifest content hashes.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// HexSize is the length of a digest returned by Hash.
const HexSize = sha256.Size * 2

// Hasher implements crawler.Hasher with lowercase hex SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash digests data. It never fails.
func (*Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
