package abi

import (
	"fmt"
	"math/big"
)

// DefaultRecursiveReadLimit bounds how often a single position may be read.
const DefaultRecursiveReadLimit = 8192

// cursor is a bounds-checked reader over ABI encoded data.
type cursor struct {
	data       []byte
	pos        int
	readCounts map[int]int
	limit      int
}

func newCursor(data []byte, limit int) *cursor {
	if limit <= 0 {
		limit = DefaultRecursiveReadLimit
	}
	return &cursor{data: data, readCounts: make(map[int]int), limit: limit}
}

func (c *cursor) remaining() int {
	return len(c.data) - c.pos
}

func (c *cursor) setPosition(pos int) (restore func(), err error) {
	if pos < 0 || pos > len(c.data) {
		return nil, fmt.Errorf("%w: position %d, size %d", ErrPositionOutOfBounds, pos, len(c.data))
	}
	prev := c.pos
	c.pos = pos
	return func() { c.pos = prev }, nil
}

func (c *cursor) readBytes(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.data) {
		return nil, fmt.Errorf("%w: read %d at %d, size %d", ErrPositionOutOfBounds, n, c.pos, len(c.data))
	}
	c.readCounts[c.pos]++
	if c.readCounts[c.pos] > c.limit {
		return nil, fmt.Errorf("%w: position %d read more than %d times", ErrRecursiveReadLimit, c.pos, c.limit)
	}
	out := c.data[c.pos : c.pos+n]
	c.pos += n
	return out, nil
}

func (c *cursor) readWord() ([]byte, error) {
	return c.readBytes(32)
}

// readSize reads a word used as an offset or length and checks that it fits
// inside the data.
func (c *cursor) readSize() (int, error) {
	word, err := c.readWord()
	if err != nil {
		return 0, err
	}
	n := new(big.Int).SetBytes(word)
	if !n.IsInt64() || n.Int64() > int64(len(c.data)) {
		return 0, fmt.Errorf("%w: size %s exceeds data length %d", ErrPositionOutOfBounds, n, len(c.data))
	}
	return int(n.Int64()), nil
}
