package web3

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethevent "github.com/ethereum/go-ethereum/event"

	"OpenNFT-Agent/internal/abi"
)

// ErrTransactionReverted is returned when a mined receipt carries a failed status.
var ErrTransactionReverted = errors.New("链上交易执行失败")

// ErrNoSigner is returned by write operations on a read-only client.
var ErrNoSigner = errors.New("客户端未配置签名私钥")

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// CallRequest describes a read-only contract call.
type CallRequest struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
}

// TxRequest describes a transaction to sign and broadcast. Zero GasLimit means
// the client estimates it.
type TxRequest struct {
	To       *common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// Receipt is the mined outcome of a transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Status      uint64
	GasUsed     uint64
	Logs        []types.Log
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == types.ReceiptStatusSuccessful
}

// ReceiptFromTypes converts a go-ethereum receipt.
func ReceiptFromTypes(r *types.Receipt) *Receipt {
	out := &Receipt{
		TxHash:  r.TxHash,
		Status:  r.Status,
		GasUsed: r.GasUsed,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	for _, l := range r.Logs {
		if l != nil {
			out.Logs = append(out.Logs, *l)
		}
	}
	return out
}

// RevertError carries revert data returned by a node for a failed call or gas
// estimation.
type RevertError struct {
	Data   []byte
	Reason *abi.RevertReason
	Err    error
}

func (e *RevertError) Error() string {
	switch {
	case e.Reason != nil:
		return fmt.Sprintf("合约执行回滚: %s", e.Reason.Reason)
	case len(e.Data) > 0:
		return fmt.Sprintf("合约执行回滚: 0x%x", e.Data)
	case e.Err != nil:
		return fmt.Sprintf("合约执行回滚: %v", e.Err)
	default:
		return "合约执行回滚"
	}
}

func (e *RevertError) Unwrap() error {
	return e.Err
}

// EventSubscription wraps a log subscription so callers can manage lifecycle
// without depending on the go-ethereum event package.
type EventSubscription struct {
	logs <-chan types.Log
	sub  gethevent.Subscription
}

// NewEventSubscription constructs a managed subscription wrapper.
func NewEventSubscription(logs <-chan types.Log, sub gethevent.Subscription) *EventSubscription {
	return &EventSubscription{logs: logs, sub: sub}
}

// Logs returns the channel that receives blockchain logs.
func (e *EventSubscription) Logs() <-chan types.Log {
	return e.logs
}

// Err forwards the subscription error channel.
func (e *EventSubscription) Err() <-chan error {
	if e == nil || e.sub == nil {
		return nil
	}
	return e.sub.Err()
}

// Close terminates the subscription.
func (e *EventSubscription) Close() {
	if e == nil || e.sub == nil {
		return
	}
	e.sub.Unsubscribe()
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	// Address is the signer address, zero for read-only clients.
	Address() common.Address
	Call(ctx context.Context, req CallRequest) ([]byte, error)
	SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
	WaitReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	SubscribeEvents(ctx context.Context, query gethcore.FilterQuery) (*EventSubscription, error)
	SendBatchTransactions(ctx context.Context, txs []*types.Transaction) ([]common.Hash, error)
	Close()
}
