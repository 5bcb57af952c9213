package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"OpenNFT-Agent/internal/web3"
	"OpenNFT-Agent/pkg/logger"
)

const (
	defaultPollInterval = 2 * time.Second
	// gas estimates are padded by 20%.
	gasNumerator   = 12
	gasDenominator = 10
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name        string
	RPCURL      string
	WSURL       string
	BatchRPCURL string
	Notes       string
	// ChainID is optional; when zero it is read from the node.
	ChainID int64
	// PrivateKey is a hex encoded secp256k1 key. Empty means read-only.
	PrivateKey   string
	PollInterval time.Duration
}

// backend is the subset of node methods the client relies on. Both
// *ethclient.Client and the simulated backend client satisfy it.
type backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	SubscribeFilterLogs(ctx context.Context, q gethcore.FilterQuery, ch chan<- coretypes.Log) (gethcore.Subscription, error)
}

// logSubscriber mirrors the subset of methods required for log subscriptions.
type logSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q gethcore.FilterQuery, ch chan<- coretypes.Log) (gethcore.Subscription, error)
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name         string
	notes        string
	rpcClient    *gethrpc.Client
	batchClient  *gethrpc.Client
	eth          *ethclient.Client
	wsClient     *ethclient.Client
	backend      backend
	eventClient  logSubscriber
	key          *ecdsa.PrivateKey
	from         common.Address
	chainID      *big.Int
	pollInterval time.Duration
	// afterSend mines pending transactions on simulated chains.
	afterSend func()

	mu        sync.Mutex
	txMu      sync.Mutex
	closeOnce sync.Once
}

// NewClient dials the configured RPC endpoints and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	key, err := parseKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	batchClient := rpcClient
	if batchURL := strings.TrimSpace(cfg.BatchRPCURL); batchURL != "" && batchURL != rpcURL {
		batchClient, err = gethrpc.DialContext(ctx, batchURL)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("连接批量交易节点失败: %w", err)
		}
	}

	c := &Client{
		name:         cfg.Name,
		notes:        cfg.Notes,
		rpcClient:    rpcClient,
		batchClient:  batchClient,
		eth:          eth,
		backend:      eth,
		eventClient:  eth,
		pollInterval: cfg.PollInterval,
	}
	if wsURL := strings.TrimSpace(cfg.WSURL); wsURL != "" {
		if wsRPC, wsErr := gethrpc.DialContext(ctx, wsURL); wsErr == nil {
			c.wsClient = ethclient.NewClient(wsRPC)
			c.eventClient = c.wsClient
		} else {
			logger.Named("web3").Warn("连接 WebSocket 节点失败，事件订阅退回 HTTP", "chain", cfg.Name, "error", wsErr)
		}
	}
	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
	}
	c.setKey(key)
	return c, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend. Every sent
// transaction is committed into a new block right away.
func NewSimulatedClient(name string, sim *simulated.Backend, key *ecdsa.PrivateKey) *Client {
	c := &Client{
		name:         name,
		notes:        "simulated backend",
		backend:      sim.Client(),
		eventClient:  sim.Client(),
		pollInterval: 20 * time.Millisecond,
		afterSend:    func() { sim.Commit() },
	}
	c.setKey(key)
	return c
}

func (c *Client) setKey(key *ecdsa.PrivateKey) {
	if key == nil {
		return
	}
	c.key = key
	c.from = crypto.PubkeyToAddress(key.PublicKey)
}

func parseKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("解析签名私钥失败: %w", err)
	}
	return key, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.wsClient != nil {
			c.wsClient.Close()
		}
		if c.batchClient != nil && c.batchClient != c.rpcClient {
			c.batchClient.Close()
		}
		if c.rpcClient != nil {
			c.rpcClient.Close()
		}
	})
}

// Address returns the signer address.
func (c *Client) Address() common.Address {
	return c.from
}

func (c *Client) chain(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.chainID = id
	return id, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	chainID, err := c.chain(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     hexutil.EncodeBig(chainID),
		BlockNumber: hexutil.EncodeUint64(blockNumber),
		Notes:       c.notes,
	}, nil
}

// Call executes eth_call against the latest block.
func (c *Client) Call(ctx context.Context, req web3.CallRequest) ([]byte, error) {
	from := req.From
	if from == (common.Address{}) {
		from = c.from
	}
	to := req.To
	out, err := c.backend.CallContract(ctx, gethcore.CallMsg{From: from, To: &to, Data: req.Data, Value: req.Value}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用合约 %s 失败: %w", to.Hex(), web3.AsRevert(err, nil))
	}
	return out, nil
}

// SendTransaction fills nonce, gas and EIP-1559 fees, signs the transaction
// with the configured key and broadcasts it.
func (c *Client) SendTransaction(ctx context.Context, req web3.TxRequest) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, web3.ErrNoSigner
	}
	chainID, err := c.chain(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("获取账户 nonce 失败: %w", err)
	}

	gas := req.GasLimit
	if gas == 0 {
		estimate, err := c.backend.EstimateGas(ctx, gethcore.CallMsg{From: c.from, To: req.To, Data: req.Data, Value: req.Value})
		if err != nil {
			return common.Hash{}, fmt.Errorf("估算 gas 失败: %w", web3.AsRevert(err, nil))
		}
		gas = estimate * gasNumerator / gasDenominator
	}

	tip, feeCap, err := c.fees(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        req.To,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("发送交易失败: %w", web3.AsRevert(err, nil))
	}
	if c.afterSend != nil {
		c.afterSend()
	}

	logger.Audit().Info("交易已广播",
		"chain", c.name,
		"tx_hash", signed.Hash().Hex(),
		"nonce", nonce,
		"gas", gas,
	)
	return signed.Hash(), nil
}

// fees returns the priority tip and a fee cap of tip + 2*baseFee.
func (c *Client) fees(ctx context.Context) (*big.Int, *big.Int, error) {
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("获取小费建议失败: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("获取最新区块头失败: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	return tip, feeCap, nil
}

// WaitReceipt polls until the transaction is mined. A failed receipt is
// returned together with web3.ErrTransactionReverted.
func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash) (*web3.Receipt, error) {
	interval := c.pollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			out := web3.ReceiptFromTypes(receipt)
			if !out.Succeeded() {
				return out, fmt.Errorf("交易 %s: %w", hash.Hex(), web3.ErrTransactionReverted)
			}
			return out, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, fmt.Errorf("查询交易回执失败: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// BalanceAt returns the latest balance of addr in wei.
func (c *Client) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// SubscribeEvents attaches a log subscription to the chain.
func (c *Client) SubscribeEvents(ctx context.Context, query gethcore.FilterQuery) (*web3.EventSubscription, error) {
	logs := make(chan coretypes.Log, 64)
	sub, err := c.eventClient.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, fmt.Errorf("订阅事件失败: %w", err)
	}
	return web3.NewEventSubscription(logs, sub), nil
}

// SendBatchTransactions broadcasts multiple signed transactions in a single
// RPC batch call when possible.
func (c *Client) SendBatchTransactions(ctx context.Context, txs []*coretypes.Transaction) ([]common.Hash, error) {
	if len(txs) == 0 {
		return nil, errors.New("没有可发送的交易")
	}

	if c.batchClient == nil {
		hashes := make([]common.Hash, 0, len(txs))
		for _, tx := range txs {
			if err := c.backend.SendTransaction(ctx, tx); err != nil {
				return nil, fmt.Errorf("发送交易失败: %w", err)
			}
			hashes = append(hashes, tx.Hash())
		}
		if c.afterSend != nil {
			c.afterSend()
		}
		return hashes, nil
	}

	hashes := make([]common.Hash, len(txs))
	elems := make([]gethrpc.BatchElem, len(txs))
	for i, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("序列化交易失败: %w", err)
		}
		elems[i] = gethrpc.BatchElem{
			Method: "eth_sendRawTransaction",
			Args:   []any{hexutil.Encode(raw)},
			Result: &hashes[i],
		}
	}

	if err := c.batchClient.BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("批量发送交易失败: %w", err)
	}
	for i := range elems {
		if elems[i].Error != nil {
			return nil, fmt.Errorf("交易 %d 发送失败: %w", i, elems[i].Error)
		}
	}
	return hashes, nil
}
