package crypt

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/airgapsync/libairgap-go/chunk"
)

// Pipeline seals and opens chunks under one key. Each sync worker owns its
// own Pipeline instance; instances share no mutable state.
//
// Nonce construction: a random 4-byte prefix chosen at pipeline creation,
// followed by a monotonic 8-byte counter. Uniqueness within a pipeline is
// guaranteed by the counter rather than by randomness alone. Combined with
// per-chunk HKDF subkeys (the AEAD key differs per content address), nonce
// reuse under one key cannot occur across pipelines either.
type Pipeline struct {
	key     Key
	codec   Codec
	level   int
	prefix  [4]byte
	counter atomic.Uint64
}

// NewPipeline creates a Pipeline for the given key and compression level
// (0-9). Level 0 disables compression.
func NewPipeline(key Key, level int) (*Pipeline, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	codec, err := CodecForLevel(level)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{key: key, codec: codec, level: level}
	if _, err := rand.Read(p.prefix[:]); err != nil {
		return nil, fmt.Errorf("crypt: nonce prefix: %w", err)
	}
	return p, nil
}

// KeyVersion returns the version of the key the pipeline seals with.
func (p *Pipeline) KeyVersion() uint32 { return p.key.Version }

// nextNonce returns a nonce unique within this pipeline instance.
func (p *Pipeline) nextNonce() [NonceSize]byte {
	var n [NonceSize]byte
	copy(n[:4], p.prefix[:])
	binary.BigEndian.PutUint64(n[4:], p.counter.Add(1))
	return n
}

// Seal compresses and then authenticated-encrypts a plaintext chunk.
// The chunk's content address is computed here and bound into the AEAD's
// additional authenticated data.
func (p *Pipeline) Seal(plaintext []byte) (*SealedChunk, error) {
	addr := chunk.AddressOf(plaintext)

	compressed, err := compress(plaintext, p.codec, p.level)
	if err != nil {
		return nil, err
	}
	codec := p.codec
	if len(compressed) >= len(plaintext) && codec != CodecNone {
		// Incompressible chunk; store it raw rather than growing it.
		compressed = plaintext
		codec = CodecNone
	}

	subkey, err := chunkKey(p.key, addr)
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(p.key.Algorithm, subkey)
	if err != nil {
		return nil, err
	}

	nonce := p.nextNonce()
	ct := aead.Seal(nil, nonce[:], compressed, sealAAD(addr))

	return &SealedChunk{
		Address:    addr,
		PlainSize:  uint64(len(plaintext)),
		Algorithm:  p.key.Algorithm,
		Codec:      codec,
		KeyVersion: p.key.Version,
		Nonce:      nonce,
		Ciphertext: ct,
	}, nil
}

// Open verifies and decrypts a sealed chunk, then decompresses it and checks
// the plaintext against the chunk's content address. Any tag mismatch fails
// closed with ErrAuthentication; the chunk must then be treated as corrupted
// and never partially accepted.
func (p *Pipeline) Open(sc *SealedChunk) ([]byte, error) {
	if sc.KeyVersion != p.key.Version {
		return nil, fmt.Errorf("%w: chunk sealed with key version %d, pipeline has %d",
			ErrKeyMismatch, sc.KeyVersion, p.key.Version)
	}
	if sc.Algorithm != p.key.Algorithm {
		return nil, fmt.Errorf("%w: chunk uses %s, key is for %s",
			ErrKeyMismatch, sc.Algorithm, p.key.Algorithm)
	}

	subkey, err := chunkKey(p.key, sc.Address)
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(sc.Algorithm, subkey)
	if err != nil {
		return nil, err
	}

	compressed, err := aead.Open(nil, sc.Nonce[:], sc.Ciphertext, sealAAD(sc.Address))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAuthentication, sc.Address)
	}

	plaintext, err := decompress(compressed, sc.Codec, sc.PlainSize)
	if err != nil {
		return nil, err
	}

	// Second commitment check: the plaintext must hash back to its address.
	got := chunk.AddressOf(plaintext)
	if !bytes.Equal(got[:], sc.Address[:]) {
		return nil, fmt.Errorf("%w: plaintext hash %s does not match address %s",
			ErrCorruptChunk, got, sc.Address)
	}
	return plaintext, nil
}
