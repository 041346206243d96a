// Package sha256 computes artifact checksums.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Sum returns the hex digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Digest is an io.Writer that hashes and counts what passes through it.
type Digest struct {
	h hash.Hash
	n int64
}

// NewDigest returns an empty Digest.
func NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

// Write implements io.Writer.
func (d *Digest) Write(p []byte) (int, error) {
	n, err := d.h.Write(p)
	d.n += int64(n)
	return n, err
}

// Size returns the number of bytes written.
func (d *Digest) Size() int64 {
	return d.n
}

// Hex returns the digest of everything written so far.
func (d *Digest) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}
