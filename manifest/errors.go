package manifest

import "errors"

var (
	// ErrNotFound indicates no snapshot manifest exists for the given ID.
	ErrNotFound = errors.New("manifest: snapshot not found")

	// ErrIntegrity indicates a manifest's recorded digest does not match its
	// content.
	ErrIntegrity = errors.New("manifest: digest mismatch")

	// ErrParentMissing indicates a manifest names a parent snapshot that is
	// not present on the destination.
	ErrParentMissing = errors.New("manifest: parent snapshot missing")

	// ErrInvalidID indicates a malformed snapshot identifier.
	ErrInvalidID = errors.New("manifest: invalid snapshot id")

	// ErrDuplicatePath indicates two file entries share the same path.
	ErrDuplicatePath = errors.New("manifest: duplicate file path")

	// ErrIO indicates a manifest read or write failure.
	ErrIO = errors.New("manifest: I/O failure")
)
