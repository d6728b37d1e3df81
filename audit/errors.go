package audit

import "errors"

var (
	// ErrInvalidKey indicates a signing or verification key of the wrong size.
	ErrInvalidKey = errors.New("audit: invalid key")

	// ErrClosed indicates an append on a closed log.
	ErrClosed = errors.New("audit: log closed")

	// ErrCorrupt indicates an audit file that cannot be decoded.
	ErrCorrupt = errors.New("audit: log corrupt")

	// ErrIO indicates a failure reading or writing the audit directory.
	ErrIO = errors.New("audit: I/O failure")
)
