// Package sha256 computes hex SHA-256 digests of document artifacts.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Digest accumulates bytes written to it, typically alongside a file via
// io.MultiWriter.
type Digest struct {
	h hash.Hash
	n int64
}

// New returns an empty digest.
func New() *Digest {
	return &Digest{h: sha256.New()}
}

// Write adds p to the digest. It never fails.
func (d *Digest) Write(p []byte) (int, error) {
	d.n += int64(len(p))
	return d.h.Write(p)
}

// Size reports how many bytes have been written.
func (d *Digest) Size() int64 {
	return d.n
}

// Hex returns the lowercase hex digest of everything written so far.
func (d *Digest) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// File hashes the contents of r.
func File(r io.Reader) (string, error) {
	d := New()
	if _, err := io.Copy(d, r); err != nil {
		return "", err
	}
	return d.Hex(), nil
}
