package abi

import "fmt"

// EncodeFunctionData returns selector || encoded inputs for the named function.
func EncodeFunctionData(a *ABI, name string, args ...any) ([]byte, error) {
	fn, err := a.Function(name)
	if err != nil {
		return nil, err
	}
	sel, err := fn.Selector()
	if err != nil {
		return nil, err
	}
	body, err := EncodeParameters(fn.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", fn.Name, err)
	}
	return append(sel[:], body...), nil
}

// DecodeFunctionData identifies the function by selector and decodes its
// inputs.
func DecodeFunctionData(a *ABI, data []byte) (Item, []any, error) {
	fn, err := a.FunctionBySelector(data)
	if err != nil {
		return Item{}, nil, err
	}
	args, err := DecodeParameters(fn.Inputs, data[4:])
	if err != nil {
		return Item{}, nil, fmt.Errorf("decode %s: %w", fn.Name, err)
	}
	return fn, args, nil
}

// DecodeFunctionResult decodes a call result. A single output is returned on
// its own, several outputs as []any, none as nil.
func DecodeFunctionResult(a *ABI, name string, data []byte) (any, error) {
	fn, err := a.Function(name)
	if err != nil {
		return nil, err
	}
	out, err := DecodeParameters(fn.Outputs, data)
	if err != nil {
		return nil, fmt.Errorf("decode %s result: %w", fn.Name, err)
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	default:
		return out, nil
	}
}
