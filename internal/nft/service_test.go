package nft

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "OpenNFT-Agent/internal/errors"
	"OpenNFT-Agent/internal/observability/metrics"
	"OpenNFT-Agent/internal/web3"
)

func newTestService(t *testing.T, chain *fakeChain, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(chain, testContracts, opts...)
	require.NoError(t, err)
	return svc
}

func mintOne(t *testing.T, svc *Service) *big.Int {
	t.Helper()
	res, err := svc.Mint(context.Background(), common.Address{}, "ipfs://token")
	require.NoError(t, err)
	return res.TokenID
}

func TestNewServiceRequiresContracts(t *testing.T) {
	_, err := NewService(newFakeChain(), web3.Contracts{NFT: testNFT})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestMintDecodesTokenIDFromTransfer(t *testing.T) {
	chain := newFakeChain()
	svc := newTestService(t, chain)

	first, err := svc.Mint(context.Background(), common.Address{}, "ipfs://a")
	require.NoError(t, err)
	second, err := svc.Mint(context.Background(), testStranger, "ipfs://b")
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.TokenID.Int64())
	assert.Equal(t, int64(2), second.TokenID.Int64())
	assert.NotEqual(t, common.Hash{}, first.TxHash)

	owner, err := svc.Owner(context.Background(), second.TokenID)
	require.NoError(t, err)
	assert.Equal(t, testStranger, owner)

	uri, err := svc.TokenURI(context.Background(), first.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://a", uri)
}

func TestMintRejectsEmptyURI(t *testing.T) {
	svc := newTestService(t, newFakeChain())
	_, err := svc.Mint(context.Background(), common.Address{}, "")
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestListApprovesMarketplaceAndRetriesOnce(t *testing.T) {
	chain := newFakeChain()
	m := metrics.New()
	svc := newTestService(t, chain, WithMetrics(m))
	id := mintOne(t, svc)

	res, err := svc.List(context.Background(), id, mustEther("0.05"))
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, []string{"mint", "setApprovalForAll", "listNFT"}, chain.sentMethods())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Approvals.WithLabelValues(metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transactions.WithLabelValues("listNFT", metrics.OutcomeSuccess)))

	listing, err := svc.GetListing(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, listing.Active)
	assert.Equal(t, testWallet, listing.Seller)
	assert.Equal(t, "0.05", FormatEther(listing.Price))
}

func TestListFailsWhenApprovalDoesNotTakeEffect(t *testing.T) {
	chain := newFakeChain()
	chain.approvalBroken = true
	svc := newTestService(t, chain)
	id := mintOne(t, svc)

	_, err := svc.List(context.Background(), id, mustEther("1"))
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeApprovalFailed, xerrors.CodeOf(err))
	assert.Equal(t, []string{"mint", "setApprovalForAll"}, chain.sentMethods())
}

func TestListRejectsNonOwnerAndZeroPrice(t *testing.T) {
	chain := newFakeChain()
	svc := newTestService(t, chain)
	res, err := svc.Mint(context.Background(), testStranger, "ipfs://x")
	require.NoError(t, err)

	_, err = svc.List(context.Background(), res.TokenID, mustEther("1"))
	assert.Equal(t, xerrors.CodeNotOwner, xerrors.CodeOf(err))

	_, err = svc.List(context.Background(), res.TokenID, big.NewInt(0))
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	assert.Equal(t, []string{"mint"}, chain.sentMethods())
}

func TestStakeSkipsApprovalWhenAlreadyApproved(t *testing.T) {
	chain := newFakeChain()
	chain.approved = true
	svc := newTestService(t, chain)
	id := mintOne(t, svc)

	res, err := svc.Stake(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, []string{"mint", "stakeNFT"}, chain.sentMethods())

	info, err := svc.StakeInfo(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, info.Active)
	assert.Equal(t, testWallet, info.Owner)

	_, err = svc.Unstake(context.Background(), id)
	require.NoError(t, err)
	_, err = svc.ClaimRewards(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"mint", "stakeNFT", "unstakeNFT", "claimRewards"}, chain.sentMethods())
}

func TestBuyChecksListingAndBalance(t *testing.T) {
	chain := newFakeChain()
	svc := newTestService(t, chain)

	_, err := svc.Buy(context.Background(), big.NewInt(9))
	assert.Equal(t, xerrors.CodeListingNotFound, xerrors.CodeOf(err))

	chain.listings["7"] = Listing{NFT: testNFT, TokenID: big.NewInt(7), Seller: testStranger, Price: mustEther("50"), Active: true}
	_, err = svc.Buy(context.Background(), big.NewInt(7))
	assert.Equal(t, xerrors.CodeInsufficientFunds, xerrors.CodeOf(err))

	chain.listings["8"] = Listing{NFT: testNFT, TokenID: big.NewInt(8), Seller: testStranger, Price: mustEther("1.5"), Active: true}
	_, err = svc.Buy(context.Background(), big.NewInt(8))
	require.NoError(t, err)

	require.Len(t, chain.sent, 1)
	assert.Equal(t, "buyNFT", chain.sent[0].method)
	assert.Equal(t, mustEther("1.5"), chain.sent[0].value)
	assert.Equal(t, "8.5", FormatEther(chain.balance))
}

func TestListingCacheInvalidatedByWrites(t *testing.T) {
	chain := newFakeChain()
	chain.approved = true
	svc := newTestService(t, chain)
	id := mintOne(t, svc)
	_, err := svc.List(context.Background(), id, mustEther("2"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.GetListing(context.Background(), id)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, chain.calls["getListing"])

	_, err = svc.CancelListing(context.Background(), id)
	require.NoError(t, err)
	listing, err := svc.GetListing(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, listing.Active)
	assert.Equal(t, 2, chain.calls["getListing"])
}

func TestActiveListingsDecodesTupleArray(t *testing.T) {
	chain := newFakeChain()
	chain.listings["1"] = Listing{NFT: testNFT, TokenID: big.NewInt(1), Seller: testStranger, Price: mustEther("0.1"), Active: true}
	chain.listings["2"] = Listing{NFT: testNFT, TokenID: big.NewInt(2), Seller: testStranger, Price: mustEther("0.2"), Active: false}
	svc := newTestService(t, chain)

	listings, err := svc.ActiveListings(context.Background())
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, testNFT, listings[0].NFT)
	assert.Equal(t, int64(1), listings[0].TokenID.Int64())
	assert.Equal(t, "0.1", FormatEther(listings[0].Price))

	_, err = svc.ActiveListings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, chain.calls["getActiveListings"])
}

func TestCreateAndRepayLoan(t *testing.T) {
	chain := newFakeChain()
	svc := newTestService(t, chain)
	id := mintOne(t, svc)

	res, err := svc.CreateLoan(context.Background(), id, mustEther("1"), 7)
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, int64(1), res.LoanID.Int64())

	last := chain.sent[len(chain.sent)-1]
	assert.Equal(t, "createLoan", last.method)
	assert.Equal(t, int64(7*24*60*60), last.args[3].(*big.Int).Int64())

	loan, err := svc.Loan(context.Background(), res.LoanID)
	require.NoError(t, err)
	assert.Equal(t, "1.1", FormatEther(loan.Due()))

	_, err = svc.RepayLoan(context.Background(), res.LoanID)
	require.NoError(t, err)
	last = chain.sent[len(chain.sent)-1]
	assert.Equal(t, "repayLoan", last.method)
	assert.Equal(t, mustEther("1.1"), last.value)

	_, err = svc.RepayLoan(context.Background(), res.LoanID)
	assert.Equal(t, xerrors.CodeConflict, xerrors.CodeOf(err))
}

func TestCreateLoanValidatesInput(t *testing.T) {
	svc := newTestService(t, newFakeChain())
	_, err := svc.CreateLoan(context.Background(), big.NewInt(1), big.NewInt(0), 7)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	_, err = svc.CreateLoan(context.Background(), big.NewInt(1), big.NewInt(1), 0)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestInfoAggregatesTokenState(t *testing.T) {
	chain := newFakeChain()
	chain.approved = true
	svc := newTestService(t, chain)
	id := mintOne(t, svc)
	_, err := svc.List(context.Background(), id, mustEther("3"))
	require.NoError(t, err)

	info, err := svc.Info(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, testWallet.Hex(), info.Owner)
	assert.Equal(t, "ipfs://token", info.TokenURI)
	require.NotNil(t, info.Listing)
	assert.Nil(t, info.Stake)
}

func TestOwnerOfMissingTokenIsReverted(t *testing.T) {
	svc := newTestService(t, newFakeChain())
	_, err := svc.Owner(context.Background(), big.NewInt(42))
	assert.Equal(t, xerrors.CodeTxReverted, xerrors.CodeOf(err))

	var rev *web3.RevertError
	require.True(t, errors.As(err, &rev))
	require.NotNil(t, rev.Reason)
	assert.Equal(t, "ERC721NonexistentToken", rev.Reason.Name)
}

func TestClassify(t *testing.T) {
	notOwner := newFakeChain().revert(marketplaceABI, "NotOwner")
	cases := []struct {
		name  string
		err   error
		code  xerrors.Code
		retry bool
	}{
		{"custom not owner", notOwner, xerrors.CodeNotOwner, false},
		{"insufficient funds", errors.New("insufficient funds for gas * price + value"), xerrors.CodeInsufficientFunds, false},
		{"receipt reverted", web3.ErrTransactionReverted, xerrors.CodeTxReverted, false},
		{"no signer", web3.ErrNoSigner, xerrors.CodeInitializationFailure, false},
		{"deadline", context.DeadlineExceeded, xerrors.CodeTimeout, true},
		{"rpc down", errors.New("dial tcp: connection refused"), xerrors.CodeChainFailure, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify(tc.err, "op")
			assert.Equal(t, tc.code, xerrors.CodeOf(err))
			assert.Equal(t, tc.retry, xerrors.RetryableError(err))
		})
	}
}

func TestIsApprovalError(t *testing.T) {
	chain := newFakeChain()
	assert.True(t, isApprovalError(chain.revert(erc721ABI, "ERC721InsufficientApproval", testMarketplace, big.NewInt(1))))
	assert.True(t, isApprovalError(&web3.RevertError{Err: errors.New("execution reverted: caller is not token owner or approved")}))
	assert.False(t, isApprovalError(chain.revert(marketplaceABI, "NotOwner")))
	assert.False(t, isApprovalError(errors.New("connection refused")))
}
