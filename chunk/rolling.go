package chunk

import (
	"io"

	boxochunker "github.com/ipfs/boxo/chunker"
)

// rollingChunker wraps the boxo Rabin fingerprint splitter. Boundaries are
// content-defined, so an insertion or deletion early in a file only shifts
// the boundaries near the edit; chunks after it keep their addresses and
// deduplicate against earlier snapshots.
type rollingChunker struct {
	splitter boxochunker.Splitter
	offset   int64
}

// NewRolling creates a content-defined Chunker with the given average chunk
// size. It satisfies the same contract as NewFixed and can be substituted
// without changing any downstream code.
func NewRolling(r io.Reader, avgSize int) (Chunker, error) {
	if avgSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	return &rollingChunker{
		splitter: boxochunker.NewRabin(r, uint64(avgSize)),
	}, nil
}

// Next returns the next content-defined piece, or io.EOF at end of stream.
func (c *rollingChunker) Next() (Piece, error) {
	data, err := c.splitter.NextBytes()
	if err != nil {
		return Piece{}, err
	}
	p := Piece{Offset: c.offset, Data: data}
	c.offset += int64(len(data))
	return p, nil
}
