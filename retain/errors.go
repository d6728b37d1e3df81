package retain

import "errors"

var (
	// ErrStillReferenced indicates a planned chunk deletion turned out to be
	// referenced by a surviving snapshot. The plan was computed against a
	// different snapshot set and must be rebuilt.
	ErrStillReferenced = errors.New("retain: chunk still referenced")
)
