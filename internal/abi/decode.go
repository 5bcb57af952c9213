package abi

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
)

// DecodeParameters decodes ABI data against params.
func DecodeParameters(params []Parameter, data []byte) ([]any, error) {
	types, err := ParseTypes(params)
	if err != nil {
		return nil, err
	}
	return DecodeTypes(types, data)
}

// DecodeTypes is DecodeParameters for already parsed types.
func DecodeTypes(types []*Type, data []byte) ([]any, error) {
	if len(types) == 0 {
		return []any{}, nil
	}
	if len(data) < 32 {
		return nil, fmt.Errorf("%w: %d bytes for %d params", ErrZeroData, len(data), len(types))
	}
	return decodeSequence(newCursor(data, DefaultRecursiveReadLimit), types, 0)
}

// decodeSequence decodes a tuple body starting at base. Dynamic members hold an
// offset relative to base.
func decodeSequence(c *cursor, types []*Type, base int) ([]any, error) {
	restore, err := c.setPosition(base)
	if err != nil {
		return nil, err
	}
	defer restore()

	out := make([]any, len(types))
	for i, t := range types {
		if !t.IsDynamic() {
			v, err := decodeValue(c, t)
			if err != nil {
				return nil, fmt.Errorf("param %d (%s): %w", i, t, err)
			}
			out[i] = v
			continue
		}

		offset, err := c.readSize()
		if err != nil {
			return nil, fmt.Errorf("param %d (%s) offset: %w", i, t, err)
		}
		next := c.pos
		if _, err := c.setPosition(base + offset); err != nil {
			return nil, fmt.Errorf("param %d (%s): %w", i, t, err)
		}
		v, err := decodeValue(c, t)
		if err != nil {
			return nil, fmt.Errorf("param %d (%s): %w", i, t, err)
		}
		out[i] = v
		c.pos = next
	}
	return out, nil
}

// decodeValue decodes one value at the cursor. Static values advance the cursor
// past their head.
func decodeValue(c *cursor, t *Type) (any, error) {
	switch t.Kind {
	case KindUint, KindInt:
		word, err := c.readWord()
		if err != nil {
			return nil, err
		}
		return decodeNumber(word, t.Size, t.Kind == KindInt)
	case KindBool:
		word, err := c.readWord()
		if err != nil {
			return nil, err
		}
		n := new(big.Int).SetBytes(word)
		switch {
		case n.Sign() == 0:
			return false, nil
		case n.IsUint64() && n.Uint64() == 1:
			return true, nil
		default:
			return nil, fmt.Errorf("%w: %x", ErrInvalidBool, word)
		}
	case KindAddress:
		word, err := c.readWord()
		if err != nil {
			return nil, err
		}
		return common.BytesToAddress(word[12:]), nil
	case KindFixedBytes:
		word, err := c.readWord()
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), word[:t.Size]...), nil
	case KindBytes:
		return decodeDynamicBytes(c)
	case KindString:
		b, err := decodeDynamicBytes(c)
		if err != nil {
			return nil, err
		}
		b = bytes.TrimRight(b, "\x00")
		return strings.ToValidUTF8(string(b), string(utf8.RuneError)), nil
	case KindArray:
		return decodeArray(c, t)
	case KindTuple:
		start := c.pos
		vals, err := decodeSequence(c, t.Components, start)
		if err != nil {
			return nil, err
		}
		if !t.IsDynamic() {
			c.pos = start + t.headSize()
		}
		return tupleResult(t, vals), nil
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrInvalidType, t.Kind)
	}
}

func decodeArray(c *cursor, t *Type) (any, error) {
	length := t.Length
	if length < 0 {
		n, err := c.readSize()
		if err != nil {
			return nil, err
		}
		length = n
	}
	// Every element needs at least its head, so the data bounds the length
	// before anything is allocated.
	if need := mulSize(length, t.Elem.headSize()); need > c.remaining() {
		return nil, fmt.Errorf("%w: array of %d elements exceeds remaining %d bytes", ErrPositionOutOfBounds, length, c.remaining())
	}

	start := c.pos
	types := make([]*Type, length)
	for i := range types {
		types[i] = t.Elem
	}
	vals, err := decodeSequence(c, types, start)
	if err != nil {
		return nil, err
	}
	if !t.IsDynamic() {
		c.pos = start + t.headSize()
	}
	return vals, nil
}

func decodeDynamicBytes(c *cursor) ([]byte, error) {
	size, err := c.readSize()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}
	b, err := c.readBytes(size)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func decodeNumber(word []byte, bits int, signed bool) (*big.Int, error) {
	n := new(big.Int).SetBytes(word)
	if signed && word[0]&0x80 != 0 {
		n.Sub(n, two256)
	}
	var lower, upper *big.Int
	if signed {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(bits-1))
		lower, upper = new(big.Int).Neg(limit), limit
	} else {
		lower, upper = big.NewInt(0), new(big.Int).Lsh(big.NewInt(1), uint(bits))
	}
	if n.Cmp(lower) < 0 || n.Cmp(upper) >= 0 {
		return nil, fmt.Errorf("%w: %s does not fit %d bits", ErrIntegerOutOfRange, n, bits)
	}
	return n, nil
}

func tupleResult(t *Type, vals []any) any {
	if !t.namedTuple() {
		return vals
	}
	out := make(map[string]any, len(vals))
	for i, name := range t.Names {
		out[name] = vals[i]
	}
	return out
}
