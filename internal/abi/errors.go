package abi

import "errors"

var (
	ErrInvalidType           = errors.New("abi: invalid type")
	ErrInvalidValue          = errors.New("abi: invalid value for type")
	ErrLengthMismatch        = errors.New("abi: parameter and value counts differ")
	ErrArrayLengthMismatch   = errors.New("abi: array length mismatch")
	ErrBytesSizeMismatch     = errors.New("abi: bytes size mismatch")
	ErrIntegerOutOfRange     = errors.New("abi: integer out of range")
	ErrInvalidAddress        = errors.New("abi: invalid address")
	ErrInvalidBool           = errors.New("abi: invalid boolean")
	ErrZeroData              = errors.New("abi: cannot decode zero data")
	ErrDataTooSmall          = errors.New("abi: data too small for type")
	ErrPositionOutOfBounds   = errors.New("abi: position out of bounds")
	ErrRecursiveReadLimit    = errors.New("abi: recursive read limit exceeded")
	ErrFunctionNotFound      = errors.New("abi: function not found")
	ErrEventNotFound         = errors.New("abi: event not found")
	ErrSelectorNotFound      = errors.New("abi: selector not found")
	ErrTopicsMismatch        = errors.New("abi: topics do not match event")
	ErrUnsupportedPackedType = errors.New("abi: type not supported in packed mode")
)
