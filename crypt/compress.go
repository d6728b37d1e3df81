package crypt

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies a compression scheme. Like Algorithm, the set is closed.
type Codec uint8

const (
	// CodecNone stores chunks uncompressed.
	CodecNone Codec = 0

	// CodecLZ4 trades ratio for speed.
	CodecLZ4 Codec = 1

	// CodecZstd is the default general-purpose codec.
	CodecZstd Codec = 2
)

// String returns the codec's wire name.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// CodecForLevel maps the configured compression level (0-9) to a codec:
// 0 disables compression, 1-2 select lz4, 3-9 select zstd at that level.
func CodecForLevel(level int) (Codec, error) {
	switch {
	case level == 0:
		return CodecNone, nil
	case level == 1 || level == 2:
		return CodecLZ4, nil
	case level >= 3 && level <= 9:
		return CodecZstd, nil
	default:
		return CodecNone, fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}
}

// compress applies the codec to data. The zstd level is only meaningful for
// CodecZstd.
func compress(data []byte, codec Codec, level int) ([]byte, error) {
	switch codec {
	case CodecNone:
		return data, nil
	case CodecLZ4:
		return compressLZ4(data)
	case CodecZstd:
		return compressZstd(data, level)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec)
	}
}

// decompress reverses compress. plainSize bounds the output: decompressed
// data that does not match it exactly is treated as corruption, which also
// caps decompression-bomb exposure.
func decompress(data []byte, codec Codec, plainSize uint64) ([]byte, error) {
	var out []byte
	var err error
	switch codec {
	case CodecNone:
		out = data
	case CodecLZ4:
		out, err = decompressLZ4(data, plainSize)
	case CodecZstd:
		out, err = decompressZstd(data, plainSize)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec)
	}
	if err != nil {
		return nil, err
	}
	if uint64(len(out)) != plainSize {
		return nil, fmt.Errorf("%w: decompressed %d bytes, expected %d", ErrCorruptChunk, len(out), plainSize)
	}
	return out, nil
}

func compressZstd(data []byte, level int) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("crypt: zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func decompressZstd(data []byte, plainSize uint64) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(plainSize+1))
	if err != nil {
		return nil, fmt.Errorf("crypt: zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, make([]byte, 0, plainSize))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptChunk, err)
	}
	return out, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("crypt: lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("crypt: lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressLZ4(data []byte, plainSize uint64) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(io.LimitReader(r, int64(plainSize)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %v", ErrCorruptChunk, err)
	}
	return out, nil
}
