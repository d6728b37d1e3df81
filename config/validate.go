package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateConfig checks that all configuration values are within acceptable
// ranges and returns the first error encountered, or nil if valid.
func ValidateConfig(cfg Config) error {
	if cfg.SourceRoot == "" {
		return ErrEmptySourceRoot
	}
	if cfg.DestinationRoot == "" {
		return ErrEmptyDestinationRoot
	}
	if nested(cfg.SourceRoot, cfg.DestinationRoot) {
		return fmt.Errorf("%w: %s and %s", ErrNestedRoots, cfg.SourceRoot, cfg.DestinationRoot)
	}

	if cfg.ChunkSize < MinChunkSize || cfg.ChunkSize > MaxChunkSize {
		return fmt.Errorf("%w: %d (must be between %d and %d)", ErrInvalidChunkSize, cfg.ChunkSize, MinChunkSize, MaxChunkSize)
	}
	if cfg.CompressionLevel < 0 || cfg.CompressionLevel > 9 {
		return fmt.Errorf("%w: got %d", ErrInvalidCompressionLevel, cfg.CompressionLevel)
	}
	if cfg.ParallelFiles < 1 || cfg.ParallelFiles > MaxParallelFiles {
		return fmt.Errorf("%w: %d (must be between 1 and %d)", ErrInvalidParallelFiles, cfg.ParallelFiles, MaxParallelFiles)
	}
	if cfg.BufferSize < MinBufferSize {
		return fmt.Errorf("%w: %d (minimum %d)", ErrInvalidBufferSize, cfg.BufferSize, MinBufferSize)
	}
	if cfg.MaxSnapshots < 0 || cfg.MaxAgeDays < 0 {
		return ErrInvalidRetention
	}
	return nil
}

// nested reports whether one path contains the other.
func nested(a, b string) bool {
	ca := filepath.Clean(a)
	cb := filepath.Clean(b)
	if ca == cb {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(ca, cb+sep) || strings.HasPrefix(cb, ca+sep)
}
