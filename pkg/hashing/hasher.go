// Package hashing implements the incremental and one-shot cryptographic
// digest contract from spec.md §4.1. The concrete algorithm is BLAKE3-256,
// the same hash family the teacher depends on for content identifiers
// (pkg/content/cid.go, pkg/identity/identity.go).
package hashing

import (
	"crypto/subtle"
	"encoding/hex"
	"io"
	"strconv"

	"lukechampine.com/blake3"

	"github.com/coldtree/coldtree/pkg/coldtreeerr"
)

// Size is the digest length in bytes (32 for BLAKE3-256).
const Size = 32

// Digest is a 32-byte BLAKE3 digest.
type Digest [Size]byte

// Hex returns the lowercase, fixed-length hex encoding of the digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// Equal performs a constant-time comparison, for use on verification paths
// (spec.md §4.1).
func (d Digest) Equal(other Digest) bool {
	return subtle.ConstantTimeCompare(d[:], other[:]) == 1
}

// ParseHex decodes a lowercase 64-char hex string into a Digest. It rejects
// any string that is not exactly 2*Size lowercase hex characters, per the
// "malformed hex hash" input error in spec.md §7.
func ParseHex(s string) (Digest, error) {
	var d Digest
	if len(s) != Size*2 {
		return d, coldtreeerr.New(coldtreeerr.CodeInvalid, "hash must be "+strconv.Itoa(Size*2)+" hex characters")
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return d, coldtreeerr.New(coldtreeerr.CodeInvalid, "malformed hex hash: not lowercase hex")
		}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, coldtreeerr.Wrap(coldtreeerr.CodeInvalid, "malformed hex hash", err)
	}
	copy(d[:], b)
	return d, nil
}

// Hasher is the capability exposed by this package: one-shot hashing over
// bytes or a stream, and an incremental builder. A single algorithm is in
// use so the BufferHasher/StreamHasher/FileHasher/IncrementalHasher split
// from the source collapses to these three entry points (spec.md §9).
type Hasher struct {
	maxStreamSize int64
}

// New returns a Hasher bounding hash_stream to maxStreamSize bytes (spec.md
// §4.1; pass 0 to use the package default of 10 GiB).
func New(maxStreamSize int64) *Hasher {
	if maxStreamSize <= 0 {
		maxStreamSize = 10 * 1024 * 1024 * 1024
	}
	return &Hasher{maxStreamSize: maxStreamSize}
}

// ThreadSafe reports whether instances of this Hasher may be shared across
// goroutines without external synchronization. BLAKE3 trees created by
// blake3.New() are independent and hold no shared mutable state, so the
// answer is true for every instance this factory returns.
func (h *Hasher) ThreadSafe() bool { return true }

// HashBytes computes the digest of data in one call.
func (h *Hasher) HashBytes(data []byte) Digest {
	return Digest(blake3.Sum256(data))
}

// HashStream fully consumes r (without closing it) and returns its digest.
// It fails with LimitExceeded if more than maxStreamSize bytes are read.
func (h *Hasher) HashStream(r io.Reader) (Digest, error) {
	limited := &io.LimitedReader{R: r, N: h.maxStreamSize + 1}
	hasher := blake3.New(Size, nil)
	n, err := io.Copy(hasher, limited)
	if err != nil {
		return Digest{}, coldtreeerr.Wrap(coldtreeerr.CodeIo, "stream hash read failed", err)
	}
	if n > h.maxStreamSize {
		return Digest{}, coldtreeerr.New(coldtreeerr.CodeLimitExceeded, "stream exceeded maximum hashable size")
	}
	var d Digest
	hasher.Sum(d[:0])
	return d, nil
}

// Incremental returns a fresh incremental digest builder.
func (h *Hasher) Incremental() *Incremental {
	return &Incremental{hasher: blake3.New(Size, nil)}
}

// Incremental is a single-use, then-finalized digest builder (spec.md §4.1):
// Update/UpdateSlice feed bytes in; Digest finalizes once; further updates
// fail with Finalized unless Reset is called.
type Incremental struct {
	hasher    *blake3.Hasher
	finalized bool
}

// Update feeds bytes into the running digest.
func (in *Incremental) Update(data []byte) error {
	if in.finalized {
		return coldtreeerr.New(coldtreeerr.CodeFinalized, "incremental hasher already finalized")
	}
	in.hasher.Write(data)
	return nil
}

// UpdateSlice feeds data[off:off+length] into the running digest.
func (in *Incremental) UpdateSlice(data []byte, off, length int) error {
	if off < 0 || length < 0 || off+length > len(data) {
		return coldtreeerr.New(coldtreeerr.CodeInvalid, "invalid offset/length for UpdateSlice")
	}
	return in.Update(data[off : off+length])
}

// Digest finalizes and returns the digest. The builder may not be updated
// again until Reset is called.
func (in *Incremental) Digest() (Digest, error) {
	if in.finalized {
		return Digest{}, coldtreeerr.New(coldtreeerr.CodeFinalized, "incremental hasher already finalized")
	}
	in.finalized = true
	var d Digest
	in.hasher.Sum(d[:0])
	return d, nil
}

// Reset clears the finalized state and starts a fresh digest.
func (in *Incremental) Reset() {
	in.hasher.Reset()
	in.finalized = false
}
