package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

const copyBufferSize = 32 * 1024

// Hasher computes a streaming SHA-256 digest and tracks how many bytes
// passed through it. It never buffers the content itself.
type Hasher struct {
	h hash.Hash
	n int64
}

func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.h.Write(p)
	h.n += int64(n)
	return n, err
}

// Size returns the number of bytes hashed so far.
func (h *Hasher) Size() int64 {
	return h.n
}

func (h *Hasher) Sum() ContentHash {
	return ContentHash(hex.EncodeToString(h.h.Sum(nil)))
}

// HashReader drains r through a bounded buffer and returns the digest and
// byte count.
func HashReader(r io.Reader) (ContentHash, int64, error) {
	h := NewHasher()
	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", h.Size(), err
	}
	return h.Sum(), h.Size(), nil
}

// HashCopy streams r into w while hashing, so upload paths can write a temp
// file and compute the content hash in a single pass.
func HashCopy(w io.Writer, r io.Reader) (ContentHash, int64, error) {
	h := NewHasher()
	buf := make([]byte, copyBufferSize)
	n, err := io.CopyBuffer(io.MultiWriter(w, h), r, buf)
	if err != nil {
		return "", n, err
	}
	return h.Sum(), n, nil
}
