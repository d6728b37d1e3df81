package chunk

import (
	"io"
)

// fixedChunker splits a stream at deterministic fixed-size boundaries.
// The last piece may be smaller than the chunk size.
type fixedChunker struct {
	r      io.Reader
	size   int
	offset int64
	done   bool
}

// NewFixed creates a Chunker with fixed-size boundaries. size must be
// positive; DefaultChunkSize is a sensible choice.
func NewFixed(r io.Reader, size int) (Chunker, error) {
	if size <= 0 {
		return nil, ErrInvalidChunkSize
	}
	return &fixedChunker{r: r, size: size}, nil
}

// Next returns the next fixed-size piece, or io.EOF when the stream ends.
func (c *fixedChunker) Next() (Piece, error) {
	if c.done {
		return Piece{}, io.EOF
	}
	buf := make([]byte, c.size)
	n, err := io.ReadFull(c.r, buf)
	switch {
	case err == io.EOF:
		c.done = true
		return Piece{}, io.EOF
	case err == io.ErrUnexpectedEOF:
		c.done = true
	case err != nil:
		return Piece{}, err
	}
	p := Piece{Offset: c.offset, Data: buf[:n]}
	c.offset += int64(n)
	return p, nil
}
