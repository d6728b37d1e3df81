// Package chunk provides content addressing and chunking for the sync
// pipeline. A chunk's identity is the BLAKE3 hash of its plaintext bytes;
// identical content always yields the same address regardless of which file
// or snapshot it came from, which is what makes deduplication work.
package chunk

import (
	"encoding/hex"
	"io"

	"github.com/zeebo/blake3"
)

// AddressSize is the length of a content address in bytes (BLAKE3-256).
const AddressSize = 32

// DefaultChunkSize is the default chunk size for fixed-size splitting (1MB).
const DefaultChunkSize = 1 << 20

// Address is the content-derived identifier of a chunk: the BLAKE3-256
// digest of its plaintext bytes.
type Address [AddressSize]byte

// AddressOf computes the content address of a byte slice.
// It is a pure function: the same input always yields the same address.
func AddressOf(data []byte) Address {
	return Address(blake3.Sum256(data))
}

// String returns the lowercase hex encoding of the address.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether the address is the all-zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ParseAddress decodes a hex-encoded content address.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, ErrInvalidAddress
	}
	if len(b) != AddressSize {
		return a, ErrInvalidAddress
	}
	copy(a[:], b)
	return a, nil
}

// Piece is one chunk of a file's byte stream. Concatenating the Data of all
// pieces in order reconstructs the file exactly.
type Piece struct {
	Offset int64  // byte offset of this piece within the file
	Data   []byte // plaintext bytes
}

// Address returns the content address of the piece's data.
func (p Piece) Address() Address {
	return AddressOf(p.Data)
}

// Chunker splits a byte stream into ordered pieces. Next returns io.EOF when
// the stream is exhausted. Implementations with different boundary strategies
// (fixed-size, content-defined) are interchangeable: downstream code depends
// only on this contract.
type Chunker interface {
	Next() (Piece, error)
}

// HashReader computes the BLAKE3-256 content hash of everything readable
// from r. Used for whole-file content hashes during diffing.
func HashReader(r io.Reader) (Address, int64, error) {
	h := blake3.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Address{}, n, err
	}
	var a Address
	copy(a[:], h.Sum(nil))
	return a, n, nil
}

// Hasher computes a content address incrementally. The transfer path feeds
// it each piece as it is chunked, producing the whole-file hash in the same
// read pass.
type Hasher struct {
	h *blake3.Hasher
}

// NewHasher returns a fresh incremental hasher.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New()}
}

// Write absorbs more content. It never returns an error.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Sum returns the address of everything written so far.
func (h *Hasher) Sum() Address {
	var a Address
	copy(a[:], h.h.Sum(nil))
	return a
}
