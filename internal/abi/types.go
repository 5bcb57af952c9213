package abi

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Parameter mirrors one entry of a JSON ABI inputs/outputs list.
type Parameter struct {
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	InternalType string      `json:"internalType,omitempty"`
	Indexed      bool        `json:"indexed,omitempty"`
	Components   []Parameter `json:"components,omitempty"`
}

// Kind enumerates the ABI type families.
type Kind int

const (
	KindUint Kind = iota
	KindInt
	KindBool
	KindAddress
	KindString
	KindBytes
	KindFixedBytes
	KindTuple
	KindArray
)

// Type is a parsed ABI type.
type Type struct {
	Kind Kind
	// Size is the bit width for integers and the byte width for fixed bytes.
	Size int
	// Length is the fixed array length, or -1 for T[].
	Length     int
	Elem       *Type
	Components []*Type
	Names      []string
}

// ParseType parses a parameter's type string, including tuple components and
// array suffixes. In "uint256[2][]" the rightmost suffix is the outermost array.
func ParseType(p Parameter) (*Type, error) {
	raw := strings.TrimSpace(p.Type)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty type", ErrInvalidType)
	}

	base := raw
	var suffixes []string
	if idx := strings.IndexByte(raw, '['); idx >= 0 {
		base = raw[:idx]
		rest := raw[idx:]
		for rest != "" {
			if rest[0] != '[' {
				return nil, fmt.Errorf("%w: %q", ErrInvalidType, raw)
			}
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated array in %q", ErrInvalidType, raw)
			}
			suffixes = append(suffixes, rest[1:end])
			rest = rest[end+1:]
		}
	}

	t, err := parseBase(base, p.Components)
	if err != nil {
		return nil, fmt.Errorf("%w (in %q)", err, raw)
	}

	for _, s := range suffixes {
		length := -1
		if s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%w: bad array length %q in %q", ErrInvalidType, s, raw)
			}
			length = n
		}
		t = &Type{Kind: KindArray, Length: length, Elem: t}
	}
	return t, nil
}

func parseBase(base string, components []Parameter) (*Type, error) {
	switch {
	case base == "address":
		return &Type{Kind: KindAddress}, nil
	case base == "bool":
		return &Type{Kind: KindBool}, nil
	case base == "string":
		return &Type{Kind: KindString}, nil
	case base == "bytes":
		return &Type{Kind: KindBytes}, nil
	case base == "tuple":
		if len(components) == 0 {
			return nil, fmt.Errorf("%w: tuple without components", ErrInvalidType)
		}
		t := &Type{Kind: KindTuple}
		for _, c := range components {
			ct, err := ParseType(c)
			if err != nil {
				return nil, err
			}
			t.Components = append(t.Components, ct)
			t.Names = append(t.Names, c.Name)
		}
		return t, nil
	case strings.HasPrefix(base, "uint"):
		size, err := intSize(base[len("uint"):])
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindUint, Size: size}, nil
	case strings.HasPrefix(base, "int"):
		size, err := intSize(base[len("int"):])
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindInt, Size: size}, nil
	case strings.HasPrefix(base, "bytes"):
		n, err := strconv.Atoi(base[len("bytes"):])
		if err != nil || n < 1 || n > 32 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidType, base)
		}
		return &Type{Kind: KindFixedBytes, Size: n}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, base)
	}
}

func intSize(s string) (int, error) {
	if s == "" {
		return 256, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 8 || n > 256 || n%8 != 0 {
		return 0, fmt.Errorf("%w: integer size %q", ErrInvalidType, s)
	}
	return n, nil
}

// ParseTypes parses every parameter of a list.
func ParseTypes(params []Parameter) ([]*Type, error) {
	out := make([]*Type, 0, len(params))
	for _, p := range params {
		t, err := ParseType(p)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// IsDynamic reports whether the type is encoded in the tail section.
func (t *Type) IsDynamic() bool {
	switch t.Kind {
	case KindString, KindBytes:
		return true
	case KindArray:
		return t.Length < 0 || t.Elem.IsDynamic()
	case KindTuple:
		for _, c := range t.Components {
			if c.IsDynamic() {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// headSize is the number of bytes the type occupies in its parent's head.
// Sizes that overflow int saturate at math.MaxInt.
func (t *Type) headSize() int {
	if t.IsDynamic() {
		return 32
	}
	switch t.Kind {
	case KindArray:
		return mulSize(t.Length, t.Elem.headSize())
	case KindTuple:
		size := 0
		for _, c := range t.Components {
			size = addSize(size, c.headSize())
		}
		return size
	default:
		return 32
	}
}

func mulSize(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxInt/b {
		return math.MaxInt
	}
	return a * b
}

func addSize(a, b int) int {
	if a > math.MaxInt-b {
		return math.MaxInt
	}
	return a + b
}

// namedTuple reports whether a tuple decodes to a map.
func (t *Type) namedTuple() bool {
	if len(t.Names) == 0 {
		return false
	}
	for _, n := range t.Names {
		if n == "" {
			return false
		}
	}
	return true
}

// String renders the canonical type used in signatures.
func (t *Type) String() string {
	switch t.Kind {
	case KindUint:
		return fmt.Sprintf("uint%d", t.Size)
	case KindInt:
		return fmt.Sprintf("int%d", t.Size)
	case KindBool:
		return "bool"
	case KindAddress:
		return "address"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindFixedBytes:
		return fmt.Sprintf("bytes%d", t.Size)
	case KindTuple:
		parts := make([]string, len(t.Components))
		for i, c := range t.Components {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, ",") + ")"
	case KindArray:
		if t.Length < 0 {
			return t.Elem.String() + "[]"
		}
		return fmt.Sprintf("%s[%d]", t.Elem.String(), t.Length)
	default:
		return "?"
	}
}
