package diff

import "errors"

var (
	// ErrSourceMissing indicates the source root does not exist or is not a
	// directory.
	ErrSourceMissing = errors.New("diff: source root missing")

	// ErrInvalidPattern indicates a malformed exclude pattern.
	ErrInvalidPattern = errors.New("diff: invalid exclude pattern")

	// ErrIO indicates a failure reading the source tree.
	ErrIO = errors.New("diff: I/O failure")
)
