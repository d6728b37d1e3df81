// Package crypt implements the chunk encryption pipeline: compress first,
// then authenticated-encrypt. Ciphertext is high-entropy, so compressing
// after encryption would be useless; the order is fixed.
//
// Per-chunk key derivation:
//
//	chunk_key = HKDF-SHA256(raw_key, salt=address, "airgapsync.chunk.v1")
//
// The chunk's content address is both the HKDF salt and the AEAD additional
// authenticated data, binding every ciphertext to the plaintext it claims to
// contain: a sealed chunk moved to a different address fails authentication.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/airgapsync/libairgap-go/chunk"
)

// Algorithm identifies an AEAD cipher. The set is closed: the storage format
// must remain a fixed, auditable set of options.
type Algorithm uint8

const (
	// AlgChaCha20Poly1305 is ChaCha20-Poly1305 with a 256-bit key (default).
	AlgChaCha20Poly1305 Algorithm = 1

	// AlgAES256GCM is AES-256 in GCM mode.
	AlgAES256GCM Algorithm = 2
)

// String returns the algorithm's wire name.
func (a Algorithm) String() string {
	switch a {
	case AlgChaCha20Poly1305:
		return "chacha20-poly1305"
	case AlgAES256GCM:
		return "aes-256-gcm"
	default:
		return fmt.Sprintf("algorithm(%d)", uint8(a))
	}
}

const (
	// KeySize is the raw key length for all supported algorithms.
	KeySize = 32

	// NonceSize is the AEAD nonce length for all supported algorithms.
	NonceSize = 12

	// TagSize is the AEAD authentication tag length.
	TagSize = 16

	// hkdfInfo is the HKDF domain-separation string for chunk keys.
	hkdfInfo = "airgapsync.chunk.v1"
)

// Key is opaque key material supplied by the external key manager, tagged
// with its algorithm and version. The pipeline never generates or persists
// long-term keys; only the Version is recorded in manifests and audit
// entries.
type Key struct {
	Algorithm Algorithm
	Version   uint32
	Raw       []byte
}

// Validate checks that the key material matches the algorithm's requirements.
func (k Key) Validate() error {
	switch k.Algorithm {
	case AlgChaCha20Poly1305, AlgAES256GCM:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, k.Algorithm)
	}
	if len(k.Raw) != KeySize {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(k.Raw))
	}
	return nil
}

// SealedChunk is an encrypted, compressed chunk ready for storage. Once
// committed to the chunk store it is never mutated; updates create new
// chunks under new addresses.
type SealedChunk struct {
	Address    chunk.Address // content address of the plaintext
	PlainSize  uint64        // plaintext length before compression
	Algorithm  Algorithm
	Codec      Codec
	KeyVersion uint32
	Nonce      [NonceSize]byte
	Ciphertext []byte // compressed-then-encrypted bytes, tag appended
}

// chunkKey derives the per-chunk AEAD key from the long-term key material.
func chunkKey(key Key, addr chunk.Address) ([]byte, error) {
	r := hkdf.New(sha256.New, key.Raw, addr[:], []byte(hkdfInfo))
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyDerivation, err)
	}
	return out, nil
}

// newAEAD constructs the AEAD cipher for an algorithm and a derived key.
func newAEAD(alg Algorithm, key []byte) (cipher.AEAD, error) {
	switch alg {
	case AlgChaCha20Poly1305:
		return chacha20poly1305.New(key)
	case AlgAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
}

// sealAAD builds the additional authenticated data for a chunk: the blob
// format version byte followed by the content address.
func sealAAD(addr chunk.Address) []byte {
	aad := make([]byte, 1+chunk.AddressSize)
	aad[0] = BlobVersion
	copy(aad[1:], addr[:])
	return aad
}

// BlobVersion is the storage format version byte. It is authenticated as
// part of the AAD, so tampering with it fails decryption.
const BlobVersion byte = 0x01

// blobHeaderSize is the fixed header length of an encoded sealed chunk:
// version(1) | algorithm(1) | codec(1) | key version(4) | plain size(8) |
// nonce(12).
const blobHeaderSize = 1 + 1 + 1 + 4 + 8 + NonceSize

// EncodeBlob serializes a sealed chunk into the on-disk blob format.
func EncodeBlob(sc *SealedChunk) []byte {
	buf := make([]byte, blobHeaderSize+len(sc.Ciphertext))
	buf[0] = BlobVersion
	buf[1] = byte(sc.Algorithm)
	buf[2] = byte(sc.Codec)
	binary.BigEndian.PutUint32(buf[3:7], sc.KeyVersion)
	binary.BigEndian.PutUint64(buf[7:15], sc.PlainSize)
	copy(buf[15:15+NonceSize], sc.Nonce[:])
	copy(buf[blobHeaderSize:], sc.Ciphertext)
	return buf
}

// DecodeBlob deserializes the on-disk blob format. The address is supplied
// by the caller (it is the storage key, not part of the blob).
func DecodeBlob(addr chunk.Address, data []byte) (*SealedChunk, error) {
	if len(data) < blobHeaderSize+TagSize {
		return nil, fmt.Errorf("%w: blob too short (%d bytes)", ErrInvalidBlob, len(data))
	}
	if data[0] != BlobVersion {
		return nil, fmt.Errorf("%w: unsupported blob version %d", ErrInvalidBlob, data[0])
	}
	sc := &SealedChunk{
		Address:    addr,
		Algorithm:  Algorithm(data[1]),
		Codec:      Codec(data[2]),
		KeyVersion: binary.BigEndian.Uint32(data[3:7]),
		PlainSize:  binary.BigEndian.Uint64(data[7:15]),
	}
	copy(sc.Nonce[:], data[15:15+NonceSize])
	sc.Ciphertext = make([]byte, len(data)-blobHeaderSize)
	copy(sc.Ciphertext, data[blobHeaderSize:])
	return sc, nil
}
