package nft

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/patrickmn/go-cache"

	"OpenNFT-Agent/internal/abi"
	xerrors "OpenNFT-Agent/internal/errors"
	"OpenNFT-Agent/internal/observability/metrics"
	"OpenNFT-Agent/internal/web3"
	"OpenNFT-Agent/pkg/logger"
)

const (
	defaultCacheTTL       = 15 * time.Second
	defaultReceiptTimeout = 3 * time.Minute
	secondsPerDay         = 24 * 60 * 60
	activeListingsKey     = "listings:active"
)

// Service drives the ERC-721 collection and the marketplace through a web3
// client.
type Service struct {
	client         web3.Client
	contracts      web3.Contracts
	cache          *cache.Cache
	metrics        *metrics.Metrics
	log            *slog.Logger
	receiptTimeout time.Duration
}

// Option customises a Service.
type Option func(*Service)

// WithCacheTTL sets how long listing reads are cached. Zero or negative keeps
// the default.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.cache = cache.New(ttl, 2*ttl)
		}
	}
}

// WithReceiptTimeout bounds how long a write waits to be mined.
func WithReceiptTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.receiptTimeout = d
		}
	}
}

// WithMetrics records transactions and approvals on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService validates the contract addresses and builds a Service.
func NewService(client web3.Client, contracts web3.Contracts, opts ...Option) (*Service, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "web3 client is nil")
	}
	if contracts.NFT == (common.Address{}) || contracts.Marketplace == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "nft and marketplace contract addresses are required",
			xerrors.WithUserMessage("未配置 NFT 或市场合约地址。"))
	}
	s := &Service{
		client:         client,
		contracts:      contracts,
		cache:          cache.New(defaultCacheTTL, 2*defaultCacheTTL),
		log:            logger.Named("nft"),
		receiptTimeout: defaultReceiptTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Address is the wallet the service signs with.
func (s *Service) Address() common.Address {
	return s.client.Address()
}

// Contracts returns the contract addresses in use.
func (s *Service) Contracts() web3.Contracts {
	return s.contracts
}

// Mint mints a token with tokenURI to the given address, or to the wallet when
// to is the zero address.
func (s *Service) Mint(ctx context.Context, to common.Address, tokenURI string) (*MintResult, error) {
	if tokenURI == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "token uri is empty",
			xerrors.WithUserMessage("请提供 NFT 的元数据 URI。"))
	}
	if to == (common.Address{}) {
		to = s.client.Address()
	}
	data, err := encode(erc721ABI, "mint", to, tokenURI)
	if err != nil {
		return nil, err
	}
	receipt, err := s.transact(ctx, "mint", s.contracts.NFT, data, nil)
	if err != nil {
		return nil, classify(err, "铸造 NFT 失败")
	}

	out := &MintResult{TxResult: txResult(receipt, false)}
	for _, l := range receipt.Logs {
		if l.Address != s.contracts.NFT {
			continue
		}
		decoded, err := abi.DecodeEventLog(eventABI, l.Topics, l.Data)
		if err != nil || decoded.Event != "Transfer" {
			continue
		}
		if id, ok := decoded.Args["tokenId"].(*big.Int); ok {
			out.TokenID = id
			break
		}
	}
	if out.TokenID == nil {
		return nil, xerrors.New(xerrors.CodeABIFailure, "mint receipt has no Transfer event",
			xerrors.WithMetadata("tx_hash", receipt.TxHash.Hex()))
	}
	s.log.Info("NFT 铸造成功", "token_id", out.TokenID.String(), "tx_hash", out.TxHash.Hex())
	return out, nil
}

// List lists an owned token at price wei.
func (s *Service) List(ctx context.Context, tokenID, price *big.Int) (*TxResult, error) {
	if err := requireTokenID(tokenID); err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "price must be positive",
			xerrors.WithUserMessage("上架价格必须大于 0。"))
	}
	if err := s.requireOwner(ctx, tokenID); err != nil {
		return nil, err
	}
	data, err := encode(marketplaceABI, "listNFT", s.contracts.NFT, tokenID, price)
	if err != nil {
		return nil, err
	}
	res, err := s.custodyWrite(ctx, "listNFT", data)
	if err != nil {
		return nil, err
	}
	s.invalidate(tokenID)
	return res, nil
}

// Buy purchases a listed token, paying the listing price.
func (s *Service) Buy(ctx context.Context, tokenID *big.Int) (*TxResult, error) {
	if err := requireTokenID(tokenID); err != nil {
		return nil, err
	}
	listing, err := s.GetListing(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if !listing.Active {
		return nil, xerrors.New(xerrors.CodeListingNotFound, fmt.Sprintf("token %s is not listed", tokenID))
	}
	balance, err := s.Balance(ctx)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(listing.Price) < 0 {
		return nil, xerrors.New(xerrors.CodeInsufficientFunds,
			fmt.Sprintf("balance %s below price %s", balance, listing.Price),
			xerrors.WithMetadata("price", FormatEther(listing.Price)),
			xerrors.WithMetadata("balance", FormatEther(balance)))
	}
	data, err := encode(marketplaceABI, "buyNFT", s.contracts.NFT, tokenID)
	if err != nil {
		return nil, err
	}
	receipt, err := s.transact(ctx, "buyNFT", s.contracts.Marketplace, data, listing.Price)
	if err != nil {
		return nil, classify(err, "购买 NFT 失败")
	}
	s.invalidate(tokenID)
	res := txResult(receipt, false)
	return &res, nil
}

// CancelListing removes the wallet's listing of tokenID.
func (s *Service) CancelListing(ctx context.Context, tokenID *big.Int) (*TxResult, error) {
	return s.marketWrite(ctx, "cancelListing", "取消上架失败", tokenID)
}

// Stake stakes an owned token in the marketplace.
func (s *Service) Stake(ctx context.Context, tokenID *big.Int) (*TxResult, error) {
	if err := requireTokenID(tokenID); err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, tokenID); err != nil {
		return nil, err
	}
	data, err := encode(marketplaceABI, "stakeNFT", s.contracts.NFT, tokenID)
	if err != nil {
		return nil, err
	}
	res, err := s.custodyWrite(ctx, "stakeNFT", data)
	if err != nil {
		return nil, err
	}
	s.invalidate(tokenID)
	return res, nil
}

// Unstake returns a staked token to its owner.
func (s *Service) Unstake(ctx context.Context, tokenID *big.Int) (*TxResult, error) {
	return s.marketWrite(ctx, "unstakeNFT", "解除质押失败", tokenID)
}

// ClaimRewards claims the staking rewards accrued by tokenID.
func (s *Service) ClaimRewards(ctx context.Context, tokenID *big.Int) (*TxResult, error) {
	return s.marketWrite(ctx, "claimRewards", "领取奖励失败", tokenID)
}

// CreateLoan borrows amount wei against tokenID for durationDays.
func (s *Service) CreateLoan(ctx context.Context, tokenID, amount *big.Int, durationDays uint64) (*LoanResult, error) {
	if err := requireTokenID(tokenID); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "loan amount must be positive",
			xerrors.WithUserMessage("借款金额必须大于 0。"))
	}
	if durationDays == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "loan duration must be positive",
			xerrors.WithUserMessage("借款期限至少为 1 天。"))
	}
	if err := s.requireOwner(ctx, tokenID); err != nil {
		return nil, err
	}
	duration := new(big.Int).Mul(new(big.Int).SetUint64(durationDays), big.NewInt(secondsPerDay))
	data, err := encode(marketplaceABI, "createLoan", s.contracts.NFT, tokenID, amount, duration)
	if err != nil {
		return nil, err
	}
	res, receipt, err := s.custodyWriteReceipt(ctx, "createLoan", data)
	if err != nil {
		return nil, err
	}
	s.invalidate(tokenID)

	out := &LoanResult{TxResult: *res}
	for _, l := range receipt.Logs {
		if l.Address != s.contracts.Marketplace {
			continue
		}
		decoded, err := abi.DecodeEventLog(eventABI, l.Topics, l.Data)
		if err != nil || decoded.Event != "LoanCreated" {
			continue
		}
		if id, ok := decoded.Args["loanId"].(*big.Int); ok {
			out.LoanID = id
			break
		}
	}
	if out.LoanID == nil {
		return nil, xerrors.New(xerrors.CodeABIFailure, "createLoan receipt has no LoanCreated event",
			xerrors.WithMetadata("tx_hash", receipt.TxHash.Hex()))
	}
	return out, nil
}

// RepayLoan repays principal plus interest of loanID.
func (s *Service) RepayLoan(ctx context.Context, loanID *big.Int) (*TxResult, error) {
	if loanID == nil || loanID.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "loan id is required",
			xerrors.WithUserMessage("请提供借款编号。"))
	}
	loan, err := s.Loan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Repaid {
		return nil, xerrors.New(xerrors.CodeConflict, fmt.Sprintf("loan %s already repaid", loanID),
			xerrors.WithUserMessage("该笔借款已经还清。"))
	}
	if loan.Borrower == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("loan %s not found", loanID),
			xerrors.WithUserMessage("没有找到该笔借款。"))
	}
	due := loan.Due()
	data, err := encode(marketplaceABI, "repayLoan", loanID)
	if err != nil {
		return nil, err
	}
	receipt, err := s.transact(ctx, "repayLoan", s.contracts.Marketplace, data, due)
	if err != nil {
		return nil, classify(err, "偿还借款失败")
	}
	if loan.TokenID != nil {
		s.invalidate(loan.TokenID)
	}
	res := txResult(receipt, false)
	return &res, nil
}

// GetListing reads the listing of tokenID, served from cache when fresh.
func (s *Service) GetListing(ctx context.Context, tokenID *big.Int) (*Listing, error) {
	if err := requireTokenID(tokenID); err != nil {
		return nil, err
	}
	key := listingKey(s.contracts.NFT, tokenID)
	if v, ok := s.cache.Get(key); ok {
		return v.(*Listing), nil
	}
	v, err := s.view(ctx, marketplaceABI, s.contracts.Marketplace, "getListing", s.contracts.NFT, tokenID)
	if err != nil {
		return nil, err
	}
	listing, err := listingFrom(v, s.contracts.NFT, tokenID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeABIFailure, err, "decode getListing")
	}
	s.cache.SetDefault(key, listing)
	return listing, nil
}

// ActiveListings reads every active listing, served from cache when fresh.
func (s *Service) ActiveListings(ctx context.Context) ([]Listing, error) {
	if v, ok := s.cache.Get(activeListingsKey); ok {
		return v.([]Listing), nil
	}
	v, err := s.view(ctx, marketplaceABI, s.contracts.Marketplace, "getActiveListings")
	if err != nil {
		return nil, err
	}
	items, ok := v.([]any)
	if !ok {
		return nil, xerrors.New(xerrors.CodeABIFailure, fmt.Sprintf("getActiveListings returned %T", v))
	}
	out := make([]Listing, 0, len(items))
	for _, item := range items {
		listing, err := listingFrom(item, common.Address{}, nil)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeABIFailure, err, "decode getActiveListings")
		}
		if listing.Active {
			out = append(out, *listing)
		}
	}
	s.cache.SetDefault(activeListingsKey, out)
	return out, nil
}

// StakeInfo reads the staking state of tokenID.
func (s *Service) StakeInfo(ctx context.Context, tokenID *big.Int) (*StakeInfo, error) {
	if err := requireTokenID(tokenID); err != nil {
		return nil, err
	}
	v, err := s.view(ctx, marketplaceABI, s.contracts.Marketplace, "getStakeInfo", s.contracts.NFT, tokenID)
	if err != nil {
		return nil, err
	}
	info, err := stakeFrom(v)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeABIFailure, err, "decode getStakeInfo")
	}
	return info, nil
}

// Loan reads loan loanID.
func (s *Service) Loan(ctx context.Context, loanID *big.Int) (*Loan, error) {
	v, err := s.view(ctx, marketplaceABI, s.contracts.Marketplace, "getLoan", loanID)
	if err != nil {
		return nil, err
	}
	loan, err := loanFrom(v)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeABIFailure, err, "decode getLoan")
	}
	return loan, nil
}

// Owner reads the owner of tokenID.
func (s *Service) Owner(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	if err := requireTokenID(tokenID); err != nil {
		return common.Address{}, err
	}
	v, err := s.view(ctx, erc721ABI, s.contracts.NFT, "ownerOf", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	owner, ok := v.(common.Address)
	if !ok {
		return common.Address{}, xerrors.New(xerrors.CodeABIFailure, fmt.Sprintf("ownerOf returned %T", v))
	}
	return owner, nil
}

// TokenURI reads the metadata URI of tokenID.
func (s *Service) TokenURI(ctx context.Context, tokenID *big.Int) (string, error) {
	if err := requireTokenID(tokenID); err != nil {
		return "", err
	}
	v, err := s.view(ctx, erc721ABI, s.contracts.NFT, "tokenURI", tokenID)
	if err != nil {
		return "", err
	}
	uri, ok := v.(string)
	if !ok {
		return "", xerrors.New(xerrors.CodeABIFailure, fmt.Sprintf("tokenURI returned %T", v))
	}
	return uri, nil
}

// Info aggregates owner, URI, listing and stake state of tokenID.
func (s *Service) Info(ctx context.Context, tokenID *big.Int) (*TokenInfo, error) {
	owner, err := s.Owner(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	uri, err := s.TokenURI(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	info := &TokenInfo{TokenID: tokenID, Owner: owner.Hex(), TokenURI: uri}
	if listing, err := s.GetListing(ctx, tokenID); err == nil && listing.Active {
		info.Listing = listing
	}
	if stake, err := s.StakeInfo(ctx, tokenID); err == nil && stake.Active {
		info.Stake = stake
	}
	return info, nil
}

// Balance reads the wallet balance in wei.
func (s *Service) Balance(ctx context.Context) (*big.Int, error) {
	bal, err := s.client.BalanceAt(ctx, s.client.Address())
	if err != nil {
		return nil, classify(err, "查询钱包余额失败")
	}
	return bal, nil
}

func (s *Service) marketWrite(ctx context.Context, method, failMsg string, tokenID *big.Int) (*TxResult, error) {
	if err := requireTokenID(tokenID); err != nil {
		return nil, err
	}
	data, err := encode(marketplaceABI, method, s.contracts.NFT, tokenID)
	if err != nil {
		return nil, err
	}
	receipt, err := s.transact(ctx, method, s.contracts.Marketplace, data, nil)
	if err != nil {
		return nil, classify(err, failMsg)
	}
	s.invalidate(tokenID)
	res := txResult(receipt, false)
	return &res, nil
}

func (s *Service) custodyWrite(ctx context.Context, method string, data []byte) (*TxResult, error) {
	res, _, err := s.custodyWriteReceipt(ctx, method, data)
	return res, err
}

// custodyWriteReceipt sends a marketplace call that takes custody of the token.
// An approval revert triggers setApprovalForAll and exactly one retry.
func (s *Service) custodyWriteReceipt(ctx context.Context, method string, data []byte) (*TxResult, *web3.Receipt, error) {
	receipt, err := s.simulateAndSend(ctx, method, data)
	if err == nil {
		return ptr(txResult(receipt, false)), receipt, nil
	}
	if !isApprovalError(err) {
		return nil, nil, classify(err, method+" 失败")
	}

	s.log.Info("市场合约未获授权，自动授权后重试", "method", method)
	approveErr := s.approveMarketplace(ctx)
	s.metrics.ObserveApproval(approveErr)
	if approveErr != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeApprovalFailed, approveErr, "setApprovalForAll failed",
			xerrors.WithMetadata("method", method))
	}

	receipt, err = s.simulateAndSend(ctx, method, data)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeApprovalFailed, classify(err, method+" 失败"), "retry after approval failed",
			xerrors.WithMetadata("method", method))
	}
	return ptr(txResult(receipt, true)), receipt, nil
}

// simulateAndSend runs the calldata as eth_call first so approval reverts
// surface with their revert data before any gas is spent.
func (s *Service) simulateAndSend(ctx context.Context, method string, data []byte) (*web3.Receipt, error) {
	if _, err := s.client.Call(ctx, web3.CallRequest{
		From: s.client.Address(),
		To:   s.contracts.Marketplace,
		Data: data,
	}); err != nil {
		return nil, web3.AsRevert(err, revertABI)
	}
	return s.transact(ctx, method, s.contracts.Marketplace, data, nil)
}

func (s *Service) approveMarketplace(ctx context.Context) error {
	data, err := encode(erc721ABI, "setApprovalForAll", s.contracts.Marketplace, true)
	if err != nil {
		return err
	}
	_, err = s.transact(ctx, "setApprovalForAll", s.contracts.NFT, data, nil)
	return err
}

// transact signs, sends and waits for a transaction to be mined.
func (s *Service) transact(ctx context.Context, method string, to common.Address, data []byte, value *big.Int) (receipt *web3.Receipt, err error) {
	defer func() { s.metrics.ObserveTransaction(method, err) }()

	hash, err := s.client.SendTransaction(ctx, web3.TxRequest{To: &to, Data: data, Value: value})
	if err != nil {
		return nil, web3.AsRevert(err, revertABI)
	}
	s.log.Debug("交易已发送", "method", method, "tx_hash", hash.Hex())

	waitCtx, cancel := context.WithTimeout(ctx, s.receiptTimeout)
	defer cancel()
	receipt, err = s.client.WaitReceipt(waitCtx, hash)
	if err != nil {
		return receipt, err
	}
	return receipt, nil
}

func (s *Service) view(ctx context.Context, contract *abi.ABI, to common.Address, method string, args ...any) (any, error) {
	data, err := encode(contract, method, args...)
	if err != nil {
		return nil, err
	}
	out, err := s.client.Call(ctx, web3.CallRequest{From: s.client.Address(), To: to, Data: data})
	if err != nil {
		return nil, classify(err, "读取合约 "+method+" 失败")
	}
	v, err := abi.DecodeFunctionResult(contract, method, out)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeABIFailure, err, "decode "+method)
	}
	return v, nil
}

func (s *Service) requireOwner(ctx context.Context, tokenID *big.Int) error {
	owner, err := s.Owner(ctx, tokenID)
	if err != nil {
		return err
	}
	if owner != s.client.Address() {
		return xerrors.New(xerrors.CodeNotOwner, fmt.Sprintf("token %s is owned by %s", tokenID, owner.Hex()),
			xerrors.WithMetadata("owner", owner.Hex()))
	}
	return nil
}

func (s *Service) invalidate(tokenID *big.Int) {
	s.cache.Delete(listingKey(s.contracts.NFT, tokenID))
	s.cache.Delete(activeListingsKey)
}

func encode(contract *abi.ABI, method string, args ...any) ([]byte, error) {
	data, err := abi.EncodeFunctionData(contract, method, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeABIFailure, err, "encode "+method)
	}
	return data, nil
}

func requireTokenID(tokenID *big.Int) error {
	if tokenID == nil || tokenID.Sign() < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "token id is required",
			xerrors.WithUserMessage("请提供有效的 NFT 编号。"))
	}
	return nil
}

func listingKey(nft common.Address, tokenID *big.Int) string {
	return "listing:" + nft.Hex() + ":" + tokenID.String()
}

func txResult(r *web3.Receipt, approved bool) TxResult {
	return TxResult{TxHash: r.TxHash, BlockNumber: r.BlockNumber, Approved: approved}
}

func ptr[T any](v T) *T {
	return &v
}
