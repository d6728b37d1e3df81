package config

import "errors"

var (
	// ErrEmptySourceRoot indicates the source directory path is empty.
	ErrEmptySourceRoot = errors.New("config: source root must not be empty")

	// ErrEmptyDestinationRoot indicates the destination path is empty.
	ErrEmptyDestinationRoot = errors.New("config: destination root must not be empty")

	// ErrNestedRoots indicates the source and destination overlap.
	ErrNestedRoots = errors.New("config: source and destination must not overlap")

	// ErrInvalidChunkSize indicates a chunk size outside the accepted range.
	ErrInvalidChunkSize = errors.New("config: invalid chunk size")

	// ErrInvalidCompressionLevel indicates a level outside 0-9.
	ErrInvalidCompressionLevel = errors.New("config: compression level must be between 0 and 9")

	// ErrInvalidParallelFiles indicates a worker count outside the accepted
	// range.
	ErrInvalidParallelFiles = errors.New("config: invalid parallel file count")

	// ErrInvalidBufferSize indicates a read buffer below the minimum.
	ErrInvalidBufferSize = errors.New("config: invalid buffer size")

	// ErrInvalidRetention indicates a negative retention bound.
	ErrInvalidRetention = errors.New("config: retention bounds must not be negative")
)
