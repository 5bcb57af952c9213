package abi

import (
	"bytes"
	"fmt"
	"math/big"
)

var (
	errorSelector = []byte{0x08, 0xc3, 0x79, 0xa0}
	panicSelector = []byte{0x4e, 0x48, 0x7b, 0x71}

	stringParams  = []Parameter{{Type: "string"}}
	uint256Params = []Parameter{{Type: "uint256"}}
)

// Revert kinds.
const (
	RevertError  = "Error"
	RevertPanic  = "Panic"
	RevertCustom = "Custom"
)

// panicReasons follows the compiler's Panic(uint256) codes.
var panicReasons = map[uint64]string{
	0x01: "assertion failed",
	0x11: "arithmetic underflow or overflow",
	0x12: "division or modulo by zero",
	0x21: "invalid enum value",
	0x22: "invalid storage byte array encoding",
	0x31: "pop on empty array",
	0x32: "array index out of bounds",
	0x41: "out of memory",
	0x51: "call to uninitialised function",
}

// RevertReason is decoded revert data.
type RevertReason struct {
	Kind   string
	Name   string
	Reason string
	Args   []any
	Code   *big.Int
}

func (r *RevertReason) String() string {
	switch r.Kind {
	case RevertError:
		return r.Reason
	case RevertPanic:
		return fmt.Sprintf("panic 0x%x: %s", r.Code, r.Reason)
	default:
		return fmt.Sprintf("%s%v", r.Name, r.Args)
	}
}

// DecodeRevert decodes Error(string), Panic(uint256) or, when custom is
// non-nil, one of its custom errors.
func DecodeRevert(data []byte, custom *ABI) (*RevertReason, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: revert data %d bytes", ErrDataTooSmall, len(data))
	}
	sel, body := data[:4], data[4:]
	switch {
	case bytes.Equal(sel, errorSelector):
		vals, err := DecodeParameters(stringParams, body)
		if err != nil {
			return nil, fmt.Errorf("decode Error(string): %w", err)
		}
		msg := vals[0].(string)
		return &RevertReason{Kind: RevertError, Name: "Error", Reason: msg, Args: vals}, nil
	case bytes.Equal(sel, panicSelector):
		vals, err := DecodeParameters(uint256Params, body)
		if err != nil {
			return nil, fmt.Errorf("decode Panic(uint256): %w", err)
		}
		code := vals[0].(*big.Int)
		reason := "unknown panic"
		if code.IsUint64() {
			if r, ok := panicReasons[code.Uint64()]; ok {
				reason = r
			}
		}
		return &RevertReason{Kind: RevertPanic, Name: "Panic", Reason: reason, Args: vals, Code: code}, nil
	}

	if custom == nil {
		return nil, fmt.Errorf("%w: 0x%x", ErrSelectorNotFound, sel)
	}
	item, err := custom.ErrorBySelector(sel)
	if err != nil {
		return nil, err
	}
	vals, err := DecodeParameters(item.Inputs, body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", item.Name, err)
	}
	r := &RevertReason{Kind: RevertCustom, Name: item.Name, Args: vals}
	r.Reason = r.String()
	return r, nil
}
