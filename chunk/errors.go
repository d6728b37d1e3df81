package chunk

import "errors"

var (
	// ErrInvalidChunkSize indicates the chunk size is not a positive integer.
	ErrInvalidChunkSize = errors.New("chunk: chunk size must be positive")

	// ErrInvalidAddress indicates a malformed content address encoding.
	ErrInvalidAddress = errors.New("chunk: invalid content address")
)
