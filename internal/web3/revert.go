package web3

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"OpenNFT-Agent/internal/abi"
)

// AsRevert converts node errors that describe an execution revert into a
// *RevertError. custom, when set, is used to decode contract specific errors.
// Errors that are not reverts are returned unchanged.
func AsRevert(err error, custom *abi.ABI) error {
	if err == nil {
		return nil
	}
	var existing *RevertError
	if errors.As(err, &existing) {
		if existing.Reason == nil && len(existing.Data) >= 4 && custom != nil {
			if reason, decErr := abi.DecodeRevert(existing.Data, custom); decErr == nil {
				existing.Reason = reason
			}
		}
		return err
	}

	var dataErr gethrpc.DataError
	if errors.As(err, &dataErr) {
		if data := revertData(dataErr.ErrorData()); len(data) > 0 {
			rev := &RevertError{Data: data, Err: err}
			if reason, decErr := abi.DecodeRevert(data, custom); decErr == nil {
				rev.Reason = reason
			}
			return rev
		}
	}
	if strings.Contains(strings.ToLower(err.Error()), "execution reverted") {
		return &RevertError{Err: err}
	}
	return err
}

func revertData(v any) []byte {
	switch d := v.(type) {
	case string:
		b, err := hexutil.Decode(d)
		if err != nil {
			return nil
		}
		return b
	case []byte:
		return d
	default:
		return nil
	}
}
