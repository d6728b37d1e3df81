// Package config holds the validated engine configuration. Parsing config
// files is the embedding application's concern; this package only defines
// the struct, the defaults, and the range checks.
package config

// Default values applied by DefaultConfig.
const (
	DefaultChunkSize        = 1 << 20
	DefaultCompressionLevel = 3
	DefaultParallelFiles    = 4
	DefaultBufferSize       = 128 << 10
	DefaultMaxSnapshots     = 7
	DefaultMaxAgeDays       = 30
)

// Validation bounds.
const (
	MinChunkSize     = 64 << 10
	MaxChunkSize     = 64 << 20
	MinBufferSize    = 4 << 10
	MaxParallelFiles = 64
)

// Config is the complete engine configuration. Construct with DefaultConfig
// and adjust, then pass through ValidateConfig; the engine treats a Config
// it receives as immutable.
type Config struct {
	// SourceRoot is the directory tree to snapshot.
	SourceRoot string

	// DestinationRoot is the sync destination, typically a removable
	// medium mount point.
	DestinationRoot string

	// Exclude lists path-segment patterns to skip ("*.tmp", "name",
	// "build/").
	Exclude []string

	// FollowSymlinks includes symlink target content under the link path.
	FollowSymlinks bool

	// IncludeHidden includes dot-files and dot-directories.
	IncludeHidden bool

	// ChunkSize is the chunking target in bytes. Fixed-size boundaries use
	// it exactly; content-defined boundaries use it as the average.
	ChunkSize int

	// ContentDefinedChunks selects rolling-hash boundaries instead of
	// fixed-size ones. Improves dedup when files shift content.
	ContentDefinedChunks bool

	// CompressionLevel 0 disables compression, 1-2 select LZ4, 3-9 select
	// zstd at increasing effort.
	CompressionLevel int

	// ParallelFiles is the number of files transferred concurrently.
	ParallelFiles int

	// BufferSize is the read buffer per transfer worker, in bytes.
	BufferSize int

	// VerifyAfterWrite re-reads and authenticates every chunk written
	// during a sync before the snapshot is committed.
	VerifyAfterWrite bool

	// MaxSnapshots caps retained snapshot count; 0 means unlimited.
	MaxSnapshots int

	// MaxAgeDays prunes snapshots older than this; 0 means unlimited.
	MaxAgeDays int
}

// DefaultConfig returns the configuration used when the caller specifies
// nothing beyond the two roots.
func DefaultConfig(source, dest string) Config {
	return Config{
		SourceRoot:       source,
		DestinationRoot:  dest,
		ChunkSize:        DefaultChunkSize,
		CompressionLevel: DefaultCompressionLevel,
		ParallelFiles:    DefaultParallelFiles,
		BufferSize:       DefaultBufferSize,
		VerifyAfterWrite: true,
		MaxSnapshots:     DefaultMaxSnapshots,
		MaxAgeDays:       DefaultMaxAgeDays,
	}
}
