package abi

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	two256 = new(big.Int).Lsh(big.NewInt(1), 256)
)

func toBigInt(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, fmt.Errorf("%w: nil *big.Int", ErrInvalidValue)
		}
		return new(big.Int).Set(n), nil
	case big.Int:
		return new(big.Int).Set(&n), nil
	case int:
		return big.NewInt(int64(n)), nil
	case int8:
		return big.NewInt(int64(n)), nil
	case int16:
		return big.NewInt(int64(n)), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case string:
		s := strings.TrimSpace(n)
		base := 10
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			s, base = s[2:], 16
		}
		out, ok := new(big.Int).SetString(s, base)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T is not an integer", ErrInvalidValue, v)
	}
}

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address. Mixed-case
// input must carry a valid EIP-55 checksum.
func IsAddress(s string) bool {
	if !common.IsHexAddress(s) || !strings.HasPrefix(s, "0x") {
		return false
	}
	body := s[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return common.HexToAddress(s).Hex() == s
}

func toAddress(v any) (common.Address, error) {
	switch a := v.(type) {
	case common.Address:
		return a, nil
	case *common.Address:
		if a == nil {
			return common.Address{}, fmt.Errorf("%w: nil address", ErrInvalidAddress)
		}
		return *a, nil
	case [20]byte:
		return common.Address(a), nil
	case string:
		if !IsAddress(a) {
			return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, a)
		}
		return common.HexToAddress(a), nil
	default:
		return common.Address{}, fmt.Errorf("%w: %T is not an address", ErrInvalidAddress, v)
	}
}

func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case common.Hash:
		return b.Bytes(), nil
	case string:
		if !strings.HasPrefix(b, "0x") {
			return nil, fmt.Errorf("%w: bytes string must be 0x-prefixed", ErrInvalidValue)
		}
		out, err := hex.DecodeString(b[2:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return out, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		out := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(out), rv)
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T is not bytes", ErrInvalidValue, v)
}

func toSlice(v any) ([]any, error) {
	if s, ok := v.([]any); ok {
		return s, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: %T is not a list", ErrInvalidValue, v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// tupleValues lines up a tuple value with its components. Accepted inputs are
// positional slices, maps keyed by component name, and structs whose fields
// match by `abi` tag or case-insensitive name.
func tupleValues(t *Type, v any) ([]any, error) {
	switch tv := v.(type) {
	case []any:
		if len(tv) != len(t.Components) {
			return nil, fmt.Errorf("%w: tuple wants %d values, got %d", ErrLengthMismatch, len(t.Components), len(tv))
		}
		return tv, nil
	case map[string]any:
		out := make([]any, len(t.Components))
		for i, name := range t.Names {
			val, ok := tv[name]
			if !ok || name == "" {
				return nil, fmt.Errorf("%w: tuple field %q missing", ErrInvalidValue, name)
			}
			out[i] = val
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %T is not a tuple", ErrInvalidValue, v)
	}
	rt := rv.Type()
	out := make([]any, len(t.Components))
	for i, name := range t.Names {
		found := false
		for f := 0; f < rt.NumField(); f++ {
			field := rt.Field(f)
			if !field.IsExported() {
				continue
			}
			tag := field.Tag.Get("abi")
			if tag == name || (tag == "" && strings.EqualFold(field.Name, name)) {
				out[i] = rv.Field(f).Interface()
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: struct %s has no field for %q", ErrInvalidValue, rt.Name(), name)
		}
	}
	return out, nil
}
