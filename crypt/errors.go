package crypt

import "errors"

var (
	// ErrAuthentication indicates the AEAD tag did not verify. The chunk is
	// untrusted; no plaintext is returned.
	ErrAuthentication = errors.New("crypt: chunk authentication failed")

	// ErrInvalidKey indicates key material of the wrong length.
	ErrInvalidKey = errors.New("crypt: invalid key material")

	// ErrKeyMismatch indicates a chunk sealed under a different key version
	// or algorithm than the pipeline holds.
	ErrKeyMismatch = errors.New("crypt: key mismatch")

	// ErrUnsupportedAlgorithm indicates an algorithm id outside the closed set.
	ErrUnsupportedAlgorithm = errors.New("crypt: unsupported algorithm")

	// ErrUnsupportedCodec indicates a codec id outside the closed set.
	ErrUnsupportedCodec = errors.New("crypt: unsupported compression codec")

	// ErrInvalidLevel indicates a compression level outside 0-9.
	ErrInvalidLevel = errors.New("crypt: compression level out of range")

	// ErrCorruptChunk indicates decompression or the post-decryption content
	// hash check failed.
	ErrCorruptChunk = errors.New("crypt: chunk corrupt")

	// ErrInvalidBlob indicates a malformed on-disk chunk blob.
	ErrInvalidBlob = errors.New("crypt: invalid chunk blob")

	// ErrKeyDerivation indicates HKDF subkey derivation failed.
	ErrKeyDerivation = errors.New("crypt: key derivation failed")
)
