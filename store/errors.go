package store

import "errors"

var (
	// ErrNotFound indicates no chunk exists for the given address.
	ErrNotFound = errors.New("store: chunk not found")

	// ErrIO indicates a read/write failure that persisted through retries.
	ErrIO = errors.New("store: I/O failure")

	// ErrCorrupt indicates an inconsistency between the index and the chunk
	// files on disk.
	ErrCorrupt = errors.New("store: chunk store corrupt")
)
