package sync

import "errors"

var (
	// ErrDestinationBusy indicates another process holds the destination
	// lock.
	ErrDestinationBusy = errors.New("sync: destination busy")

	// ErrEngineBusy indicates an operation was started while another is
	// still running on the same engine.
	ErrEngineBusy = errors.New("sync: operation already in progress")

	// ErrCancelled indicates the operation observed context cancellation
	// and stopped at a safe point.
	ErrCancelled = errors.New("sync: operation cancelled")

	// ErrChunkMissing indicates a restore needs a chunk the destination no
	// longer holds.
	ErrChunkMissing = errors.New("sync: chunk missing from destination")

	// ErrInsufficientSpace indicates the destination lacks room for the
	// estimated transfer.
	ErrInsufficientSpace = errors.New("sync: insufficient space on destination")

	// ErrIntegrity indicates restored or verified content does not match
	// its recorded hash.
	ErrIntegrity = errors.New("sync: content integrity violation")
)
