package abi

import (
	"fmt"
	"unicode/utf8"
)

// EncodePacked implements Solidity's abi.encodePacked. Tuples are not
// supported. Array elements are padded to 32 bytes as Solidity does.
func EncodePacked(types []string, values []any) ([]byte, error) {
	if len(types) != len(values) {
		return nil, fmt.Errorf("%w: %d types, %d values", ErrLengthMismatch, len(types), len(values))
	}
	var out []byte
	for i, raw := range types {
		t, err := ParseType(Parameter{Type: raw})
		if err != nil {
			return nil, err
		}
		enc, err := encodePackedValue(t, values[i], false)
		if err != nil {
			return nil, fmt.Errorf("packed %d (%s): %w", i, raw, err)
		}
		out = append(out, enc...)
	}
	return out, nil
}

func encodePackedValue(t *Type, v any, inArray bool) ([]byte, error) {
	switch t.Kind {
	case KindAddress:
		addr, err := toAddress(v)
		if err != nil {
			return nil, err
		}
		if inArray {
			return padLeft(addr.Bytes()), nil
		}
		return addr.Bytes(), nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a bool", ErrInvalidValue, v)
		}
		out := []byte{0}
		if b {
			out[0] = 1
		}
		if inArray {
			return padLeft(out), nil
		}
		return out, nil
	case KindUint, KindInt:
		n, err := toBigInt(v)
		if err != nil {
			return nil, err
		}
		word, err := encodeNumber(n, t.Size, t.Kind == KindInt)
		if err != nil {
			return nil, err
		}
		if inArray {
			return word, nil
		}
		return word[32-t.Size/8:], nil
	case KindFixedBytes:
		b, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		if len(b) > t.Size {
			return nil, fmt.Errorf("%w: bytes%d given %d bytes", ErrBytesSizeMismatch, t.Size, len(b))
		}
		if inArray {
			return padRight(b), nil
		}
		out := make([]byte, t.Size)
		copy(out, b)
		return out, nil
	case KindBytes:
		if inArray {
			return nil, fmt.Errorf("%w: bytes inside array", ErrUnsupportedPackedType)
		}
		return toBytes(v)
	case KindString:
		if inArray {
			return nil, fmt.Errorf("%w: string inside array", ErrUnsupportedPackedType)
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a string", ErrInvalidValue, v)
		}
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("%w: string is not valid utf-8", ErrInvalidValue)
		}
		return []byte(s), nil
	case KindArray:
		elems, err := toSlice(v)
		if err != nil {
			return nil, err
		}
		if t.Length >= 0 && len(elems) != t.Length {
			return nil, fmt.Errorf("%w: %s given %d elements", ErrArrayLengthMismatch, t, len(elems))
		}
		var out []byte
		for _, e := range elems {
			enc, err := encodePackedValue(t.Elem, e, true)
			if err != nil {
				return nil, err
			}
			out = append(out, enc...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPackedType, t)
	}
}
