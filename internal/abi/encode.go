package abi

import (
	"fmt"
	"math/big"
	"unicode/utf8"
)

// EncodeParameters encodes values against params using the standard ABI
// head/tail layout.
func EncodeParameters(params []Parameter, values []any) ([]byte, error) {
	if len(params) != len(values) {
		return nil, fmt.Errorf("%w: %d params, %d values", ErrLengthMismatch, len(params), len(values))
	}
	types, err := ParseTypes(params)
	if err != nil {
		return nil, err
	}
	return encodeSequence(types, values)
}

// EncodeTypes is EncodeParameters for already parsed types.
func EncodeTypes(types []*Type, values []any) ([]byte, error) {
	if len(types) != len(values) {
		return nil, fmt.Errorf("%w: %d types, %d values", ErrLengthMismatch, len(types), len(values))
	}
	return encodeSequence(types, values)
}

// encodeSequence lays out a tuple body: static members inline, dynamic members
// as offsets from the start of the body pointing into the tail.
func encodeSequence(types []*Type, values []any) ([]byte, error) {
	headLen := 0
	for _, t := range types {
		headLen += t.headSize()
	}

	var head, tail []byte
	for i, t := range types {
		enc, err := encodeValue(t, values[i])
		if err != nil {
			return nil, fmt.Errorf("param %d (%s): %w", i, t, err)
		}
		if t.IsDynamic() {
			head = append(head, encodeUint(uint64(headLen+len(tail)))...)
			tail = append(tail, enc...)
			continue
		}
		head = append(head, enc...)
	}
	return append(head, tail...), nil
}

func encodeValue(t *Type, v any) ([]byte, error) {
	switch t.Kind {
	case KindUint, KindInt:
		n, err := toBigInt(v)
		if err != nil {
			return nil, err
		}
		return encodeNumber(n, t.Size, t.Kind == KindInt)
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a bool", ErrInvalidValue, v)
		}
		if b {
			return encodeUint(1), nil
		}
		return encodeUint(0), nil
	case KindAddress:
		addr, err := toAddress(v)
		if err != nil {
			return nil, err
		}
		return padLeft(addr.Bytes()), nil
	case KindFixedBytes:
		b, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		if len(b) > t.Size {
			return nil, fmt.Errorf("%w: bytes%d given %d bytes", ErrBytesSizeMismatch, t.Size, len(b))
		}
		return padRight(b), nil
	case KindBytes:
		b, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		return encodeDynamicBytes(b), nil
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a string", ErrInvalidValue, v)
		}
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("%w: string is not valid utf-8", ErrInvalidValue)
		}
		return encodeDynamicBytes([]byte(s)), nil
	case KindArray:
		elems, err := toSlice(v)
		if err != nil {
			return nil, err
		}
		if t.Length >= 0 && len(elems) != t.Length {
			return nil, fmt.Errorf("%w: %s given %d elements", ErrArrayLengthMismatch, t, len(elems))
		}
		types := make([]*Type, len(elems))
		for i := range types {
			types[i] = t.Elem
		}
		body, err := encodeSequence(types, elems)
		if err != nil {
			return nil, err
		}
		if t.Length < 0 {
			return append(encodeUint(uint64(len(elems))), body...), nil
		}
		return body, nil
	case KindTuple:
		vals, err := tupleValues(t, v)
		if err != nil {
			return nil, err
		}
		return encodeSequence(t.Components, vals)
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrInvalidType, t.Kind)
	}
}

func encodeNumber(n *big.Int, bits int, signed bool) ([]byte, error) {
	var lower, upper *big.Int
	if signed {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(bits-1))
		lower = new(big.Int).Neg(limit)
		upper = limit
	} else {
		lower = big.NewInt(0)
		upper = new(big.Int).Lsh(big.NewInt(1), uint(bits))
	}
	if n.Cmp(lower) < 0 || n.Cmp(upper) >= 0 {
		kind := "uint"
		if signed {
			kind = "int"
		}
		return nil, fmt.Errorf("%w: %s does not fit %s%d", ErrIntegerOutOfRange, n, kind, bits)
	}
	if n.Sign() < 0 {
		n = new(big.Int).Add(n, two256)
	}
	return n.FillBytes(make([]byte, 32)), nil
}

func encodeUint(n uint64) []byte {
	return new(big.Int).SetUint64(n).FillBytes(make([]byte, 32))
}

func encodeDynamicBytes(b []byte) []byte {
	out := encodeUint(uint64(len(b)))
	if len(b) == 0 {
		return out
	}
	return append(out, padRight(b)...)
}

func padLeft(b []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// padRight zero-pads b to the next multiple of 32 bytes.
func padRight(b []byte) []byte {
	size := (len(b) + 31) / 32 * 32
	if size == 0 {
		size = 32
	}
	out := make([]byte, size)
	copy(out, b)
	return out
}
