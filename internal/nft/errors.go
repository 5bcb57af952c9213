package nft

import (
	"context"
	"errors"
	"strings"

	xerrors "OpenNFT-Agent/internal/errors"
	"OpenNFT-Agent/internal/web3"
)

// isApprovalError reports whether err is a revert caused by the marketplace
// lacking approval over the token.
func isApprovalError(err error) bool {
	var rev *web3.RevertError
	if !errors.As(web3.AsRevert(err, revertABI), &rev) {
		return false
	}
	if rev.Reason != nil {
		switch rev.Reason.Name {
		case "ERC721InsufficientApproval", "NotApproved":
			return true
		}
		return mentionsApproval(rev.Reason.Reason)
	}
	return mentionsApproval(rev.Error())
}

func mentionsApproval(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "approv") || strings.Contains(s, "not authorized") || strings.Contains(s, "授权")
}

// classify maps chain and contract failures onto coded errors. Errors that are
// already coded pass through.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return xerrors.Wrap(xerrors.CodeTimeout, err, msg)
	case errors.Is(err, context.Canceled):
		return xerrors.Wrap(xerrors.CodeTimeout, err, msg, xerrors.WithRetryable(false))
	case errors.Is(err, web3.ErrNoSigner):
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, msg,
			xerrors.WithRetryable(false),
			xerrors.WithUserMessage("当前未配置钱包私钥，无法发送交易。"))
	case strings.Contains(strings.ToLower(err.Error()), "insufficient funds"):
		return xerrors.Wrap(xerrors.CodeInsufficientFunds, err, msg)
	}

	var rev *web3.RevertError
	if errors.As(web3.AsRevert(err, revertABI), &rev) {
		reason := strings.ToLower(rev.Error())
		name := ""
		if rev.Reason != nil {
			name = rev.Reason.Name
			reason = strings.ToLower(rev.Reason.Reason)
		}
		switch {
		case name == "NotOwner" || name == "ERC721IncorrectOwner" || strings.Contains(reason, "not owner") || strings.Contains(reason, "not the owner"):
			return xerrors.Wrap(xerrors.CodeNotOwner, rev, msg)
		case name == "ListingNotActive" || strings.Contains(reason, "not listed") || strings.Contains(reason, "not active"):
			return xerrors.Wrap(xerrors.CodeListingNotFound, rev, msg)
		case strings.Contains(reason, "insufficient"):
			return xerrors.Wrap(xerrors.CodeInsufficientFunds, rev, msg)
		}
		return xerrors.Wrap(xerrors.CodeTxReverted, rev, msg)
	}
	if errors.Is(err, web3.ErrTransactionReverted) {
		return xerrors.Wrap(xerrors.CodeTxReverted, err, msg)
	}
	return xerrors.Wrap(xerrors.CodeChainFailure, err, msg)
}
