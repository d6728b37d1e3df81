package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/data", "/mnt/backup")

	assert.Equal(t, "/data", cfg.SourceRoot)
	assert.Equal(t, "/mnt/backup", cfg.DestinationRoot)
	assert.Equal(t, DefaultChunkSize, cfg.ChunkSize)
	assert.Equal(t, DefaultCompressionLevel, cfg.CompressionLevel)
	assert.Equal(t, DefaultParallelFiles, cfg.ParallelFiles)
	assert.Equal(t, DefaultBufferSize, cfg.BufferSize)
	assert.True(t, cfg.VerifyAfterWrite)
	assert.Equal(t, DefaultMaxSnapshots, cfg.MaxSnapshots)
	assert.Equal(t, DefaultMaxAgeDays, cfg.MaxAgeDays)

	assert.NoError(t, ValidateConfig(cfg))
}

func TestValidateConfig(t *testing.T) {
	valid := DefaultConfig("/data", "/mnt/backup")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"empty source", func(c *Config) { c.SourceRoot = "" }, ErrEmptySourceRoot},
		{"empty destination", func(c *Config) { c.DestinationRoot = "" }, ErrEmptyDestinationRoot},
		{"destination inside source", func(c *Config) { c.DestinationRoot = "/data/backup" }, ErrNestedRoots},
		{"source inside destination", func(c *Config) { c.SourceRoot = "/mnt/backup/data" }, ErrNestedRoots},
		{"identical roots", func(c *Config) { c.DestinationRoot = "/data" }, ErrNestedRoots},
		{"chunk size too small", func(c *Config) { c.ChunkSize = 1024 }, ErrInvalidChunkSize},
		{"chunk size too large", func(c *Config) { c.ChunkSize = 1 << 30 }, ErrInvalidChunkSize},
		{"compression level negative", func(c *Config) { c.CompressionLevel = -1 }, ErrInvalidCompressionLevel},
		{"compression level too high", func(c *Config) { c.CompressionLevel = 10 }, ErrInvalidCompressionLevel},
		{"zero workers", func(c *Config) { c.ParallelFiles = 0 }, ErrInvalidParallelFiles},
		{"too many workers", func(c *Config) { c.ParallelFiles = 1000 }, ErrInvalidParallelFiles},
		{"buffer too small", func(c *Config) { c.BufferSize = 128 }, ErrInvalidBufferSize},
		{"negative snapshot retention", func(c *Config) { c.MaxSnapshots = -1 }, ErrInvalidRetention},
		{"negative age retention", func(c *Config) { c.MaxAgeDays = -1 }, ErrInvalidRetention},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			assert.ErrorIs(t, ValidateConfig(cfg), tc.wantErr)
		})
	}

	assert.NoError(t, ValidateConfig(valid))
}

func TestValidateConfig_BoundaryValues(t *testing.T) {
	cfg := DefaultConfig("/data", "/mnt/backup")

	cfg.ChunkSize = MinChunkSize
	assert.NoError(t, ValidateConfig(cfg))
	cfg.ChunkSize = MaxChunkSize
	assert.NoError(t, ValidateConfig(cfg))

	cfg = DefaultConfig("/data", "/mnt/backup")
	cfg.CompressionLevel = 0
	assert.NoError(t, ValidateConfig(cfg))
	cfg.CompressionLevel = 9
	assert.NoError(t, ValidateConfig(cfg))

	cfg = DefaultConfig("/data", "/mnt/backup")
	cfg.MaxSnapshots = 0
	cfg.MaxAgeDays = 0
	assert.NoError(t, ValidateConfig(cfg), "zero retention bounds mean unlimited")
}
