package ethereum

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"

	"OpenNFT-Agent/internal/abi"
	"OpenNFT-Agent/internal/web3"
)

const (
	// runtime returns uint256(42) for any call.
	answerContractBin = "600a600c600039600a6000f3" + "602a60005260206000f3"
	// runtime emits LOG1 with a fixed topic.
	logContractBin        = "6027600c60003960276000f37f0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f2060006000a100"
	logContractEventTopic = "0x0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"
)

// revertContractBin builds a contract whose runtime always reverts with
// Error(reason).
func revertContractBin(t *testing.T, reason string) string {
	t.Helper()
	body, err := abi.EncodeParameters([]abi.Parameter{{Type: "string"}}, []any{reason})
	if err != nil {
		t.Fatalf("encode reason: %v", err)
	}
	data := append([]byte{0x08, 0xc3, 0x79, 0xa0}, body...)
	if len(data) > 0xff-12 {
		t.Fatalf("reason too long for test contract")
	}
	n := byte(len(data))
	runtime := append([]byte{0x60, n, 0x60, 0x0c, 0x60, 0x00, 0x39, 0x60, n, 0x60, 0x00, 0xfd}, data...)
	size := byte(len(runtime))
	initCode := []byte{0x60, size, 0x60, 0x0c, 0x60, 0x00, 0x39, 0x60, size, 0x60, 0x00, 0xf3}
	return hex.EncodeToString(append(initCode, runtime...))
}

func newSimulatedClient(t *testing.T) (*Client, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	funds, _ := new(big.Int).SetString("100000000000000000000", 10)
	sim := simulated.NewBackend(coretypes.GenesisAlloc{
		crypto.PubkeyToAddress(key.PublicKey): {Balance: funds},
	})
	t.Cleanup(func() { _ = sim.Close() })

	client := NewSimulatedClient("simulated", sim, key)
	t.Cleanup(client.Close)
	return client, key
}

func deploy(t *testing.T, ctx context.Context, client *Client, bin string) common.Address {
	t.Helper()
	nonce, err := client.backend.PendingNonceAt(ctx, client.Address())
	if err != nil {
		t.Fatalf("pending nonce: %v", err)
	}
	hash, err := client.SendTransaction(ctx, web3.TxRequest{Data: common.FromHex(bin), GasLimit: 500_000})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if _, err := client.WaitReceipt(ctx, hash); err != nil {
		t.Fatalf("deploy receipt: %v", err)
	}
	return crypto.CreateAddress(client.Address(), nonce)
}

func TestClientCallAndSnapshot(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, _ := newSimulatedClient(t)
	contract := deploy(t, ctx, client, answerContractBin)

	out, err := client.Call(ctx, web3.CallRequest{To: contract})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	vals, err := abi.DecodeParameters([]abi.Parameter{{Type: "uint256"}}, out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := vals[0].(*big.Int); got.Int64() != 42 {
		t.Fatalf("expected 42, got %s", got)
	}

	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0x539" {
		t.Fatalf("unexpected chain id %s", snapshot.ChainID)
	}
	if snapshot.BlockNumber == "0x0" {
		t.Fatal("expected block number to advance after deployment")
	}

	balance, err := client.BalanceAt(ctx, client.Address())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() <= 0 {
		t.Fatalf("expected positive balance, got %s", balance)
	}
}

func TestClientSendTransactionSubscribe(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, _ := newSimulatedClient(t)
	contract := deploy(t, ctx, client, logContractBin)

	sub, err := client.SubscribeEvents(ctx, gethcore.FilterQuery{Addresses: []common.Address{contract}})
	if err != nil {
		t.Fatalf("subscribe events: %v", err)
	}
	defer sub.Close()

	hash, err := client.SendTransaction(ctx, web3.TxRequest{To: &contract})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	receipt, err := client.WaitReceipt(ctx, hash)
	if err != nil {
		t.Fatalf("wait receipt: %v", err)
	}
	if !receipt.Succeeded() || len(receipt.Logs) != 1 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	select {
	case log := <-sub.Logs():
		if log.Address != contract {
			t.Fatalf("unexpected log address %s", log.Address.Hex())
		}
		if len(log.Topics) == 0 || log.Topics[0] != common.HexToHash(logContractEventTopic) {
			t.Fatalf("unexpected log topics %+v", log.Topics)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for event log")
	}
}

func TestClientSurfacesRevertReason(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, _ := newSimulatedClient(t)
	contract := deploy(t, ctx, client, revertContractBin(t, "not approved"))

	_, err := client.Call(ctx, web3.CallRequest{To: contract})
	var rev *web3.RevertError
	if !errors.As(err, &rev) {
		t.Fatalf("expected revert error, got %v", err)
	}
	if rev.Reason == nil || rev.Reason.Reason != "not approved" {
		t.Fatalf("unexpected revert reason %+v", rev.Reason)
	}

	_, err = client.SendTransaction(ctx, web3.TxRequest{To: &contract})
	if !errors.As(err, &rev) {
		t.Fatalf("expected estimate to revert, got %v", err)
	}

	hash, err := client.SendTransaction(ctx, web3.TxRequest{To: &contract, GasLimit: 100_000})
	if err != nil {
		t.Fatalf("send with fixed gas: %v", err)
	}
	receipt, err := client.WaitReceipt(ctx, hash)
	if !errors.Is(err, web3.ErrTransactionReverted) {
		t.Fatalf("expected reverted receipt, got %v", err)
	}
	if receipt == nil || receipt.Succeeded() {
		t.Fatalf("expected failed receipt, got %+v", receipt)
	}
}

func TestClientSendBatchTransactions(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, key := newSimulatedClient(t)
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	nonce, err := client.backend.PendingNonceAt(ctx, client.Address())
	if err != nil {
		t.Fatalf("pending nonce: %v", err)
	}
	tip, feeCap, err := client.fees(ctx)
	if err != nil {
		t.Fatalf("fees: %v", err)
	}
	chainID, err := client.chain(ctx)
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}

	var txs []*coretypes.Transaction
	for i := uint64(0); i < 2; i++ {
		tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce + i,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       21_000,
			To:        &to,
			Value:     big.NewInt(1_000),
		})
		signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), key)
		if err != nil {
			t.Fatalf("sign tx: %v", err)
		}
		txs = append(txs, signed)
	}

	hashes, err := client.SendBatchTransactions(ctx, txs)
	if err != nil {
		t.Fatalf("send batch: %v", err)
	}
	if len(hashes) != 2 {
		t.Fatalf("expected 2 hashes, got %d", len(hashes))
	}
	for _, h := range hashes {
		if _, err := client.WaitReceipt(ctx, h); err != nil {
			t.Fatalf("wait receipt: %v", err)
		}
	}
	balance, err := client.BalanceAt(ctx, to)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Int64() != 2_000 {
		t.Fatalf("expected 2000 wei, got %s", balance)
	}
}

func TestReadOnlyClientCannotSend(t *testing.T) {
	sim := simulated.NewBackend(coretypes.GenesisAlloc{})
	t.Cleanup(func() { _ = sim.Close() })

	client := NewSimulatedClient("readonly", sim, nil)
	if client.Address() != (common.Address{}) {
		t.Fatalf("expected zero signer address")
	}
	_, err := client.SendTransaction(context.Background(), web3.TxRequest{})
	if !errors.Is(err, web3.ErrNoSigner) {
		t.Fatalf("expected ErrNoSigner, got %v", err)
	}
}

func TestParseKey(t *testing.T) {
	key, err := parseKey("")
	if err != nil || key != nil {
		t.Fatalf("empty key should be read-only, got %v %v", key, err)
	}
	if _, err := parseKey("0xzz"); err == nil {
		t.Fatal("expected invalid key error")
	}
	raw := "0x" + hex.EncodeToString(crypto.FromECDSA(mustKey(t)))
	if key, err := parseKey(raw); err != nil || key == nil {
		t.Fatalf("parse key: %v", err)
	}
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

var _ web3.Client = (*Client)(nil)
